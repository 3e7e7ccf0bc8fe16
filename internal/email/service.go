package email

import (
	"fmt"
	"net/smtp"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendOrderConfirmation sends an order confirmation email to the buyer
func (s *Service) SendOrderConfirmation(to, orderID string, total int, items []OrderItem) error {
	subject := fmt.Sprintf("Order confirmed (#%s)", shortID(orderID))
	body := BuildOrderConfirmationBody(orderID, total, items)
	return s.send(to, subject, body)
}

// SendFarmerSale notifies a farmer that their products were sold
func (s *Service) SendFarmerSale(to, orderID string, earnings int, items []OrderItem) error {
	subject := fmt.Sprintf("You made a sale (#%s)", shortID(orderID))
	body := BuildFarmerSaleBody(orderID, earnings, items)
	return s.send(to, subject, body)
}

// SendStatusUpdate notifies the buyer that their order moved to a new status
func (s *Service) SendStatusUpdate(to, orderID, status string) error {
	subject := fmt.Sprintf("Order update (#%s)", shortID(orderID))
	body := BuildStatusUpdateBody(orderID, status)
	return s.send(to, subject, body)
}

// SendPaymentReceipt sends the buyer a receipt for a settled payment
func (s *Service) SendPaymentReceipt(to, orderID string, amount int) error {
	subject := fmt.Sprintf("Payment received (#%s)", shortID(orderID))
	body := BuildPaymentReceiptBody(orderID, amount)
	return s.send(to, subject, body)
}

// SendOrderCancelled notifies the buyer that their order was cancelled
func (s *Service) SendOrderCancelled(to, orderID string) error {
	subject := fmt.Sprintf("Order cancelled (#%s)", shortID(orderID))
	body := BuildOrderCancelledBody(orderID)
	return s.send(to, subject, body)
}

func shortID(orderID string) string {
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
