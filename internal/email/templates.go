package email

import (
	"fmt"
	"strings"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     int
}

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(orderID string, total int, items []OrderItem) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #2e7d32 0%%, #66bb6a 100%%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Your order has been received and is being prepared by our farmers.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>

		<h2 style="font-size: 18px; border-bottom: 2px solid #2e7d32; padding-bottom: 10px;">Order details</h2>

		%s

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #2e7d32; margin-left: 10px;">$%s</span>
		</div>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. If anything looks wrong, please contact support.
		</p>
	</div>
</body>
</html>`, orderID, buildItemsTable(items), formatNumber(total))
}

// BuildFarmerSaleBody builds the HTML body for the farmer sale notification
func BuildFarmerSaleBody(orderID string, earnings int, items []OrderItem) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px; color: #2e7d32;">You made a sale</h1>
	<p>Order <span style="font-family: monospace; font-weight: bold;">%s</span> includes your products:</p>
	%s
	<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
		<span style="font-size: 14px; color: #666;">Your earnings</span>
		<span style="font-size: 24px; font-weight: bold; color: #2e7d32; margin-left: 10px;">$%s</span>
	</div>
	<p style="font-size: 12px; color: #999;">Please prepare the items for shipment.</p>
</body>
</html>`, orderID, buildItemsTable(items), formatNumber(earnings))
}

// BuildOrderCancelledBody builds the HTML body for the cancellation notice
func BuildOrderCancelledBody(orderID string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px;">Order cancelled</h1>
	<p>Your order <span style="font-family: monospace; font-weight: bold;">%s</span> has been cancelled and the reserved items were returned to stock.</p>
	<p style="font-size: 12px; color: #999;">If you did not request this cancellation, please contact support.</p>
</body>
</html>`, orderID)
}

// BuildStatusUpdateBody builds the HTML body for a status change notice
func BuildStatusUpdateBody(orderID, status string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px; color: #2e7d32;">Order update</h1>
	<p>Your order <span style="font-family: monospace; font-weight: bold;">%s</span> is now <strong>%s</strong>.</p>
	<p style="font-size: 12px; color: #999;">This is an automated message. If anything looks wrong, please contact support.</p>
</body>
</html>`, orderID, status)
}

// BuildPaymentReceiptBody builds the HTML body for a payment receipt
func BuildPaymentReceiptBody(orderID string, amount int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 24px; color: #2e7d32;">Payment received</h1>
	<p>We received your payment for order <span style="font-family: monospace; font-weight: bold;">%s</span>.</p>
	<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
		<span style="font-size: 14px; color: #666;">Amount paid</span>
		<span style="font-size: 24px; font-weight: bold; color: #2e7d32; margin-left: 10px;">$%s</span>
	</div>
	<p style="font-size: 12px; color: #999;">Keep this email as your receipt.</p>
</body>
</html>`, orderID, formatNumber(amount))
}

func buildItemsTable(items []OrderItem) string {
	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">$%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">$%s</td>
			</tr>`,
			name,
			item.Quantity,
			formatNumber(item.Price),
			formatNumber(item.Price*item.Quantity),
		))
	}

	return fmt.Sprintf(`<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr style="background: #f8f9fa;">
				<th style="padding: 12px; text-align: left; font-weight: 600;">Product</th>
				<th style="padding: 12px; text-align: center; font-weight: 600;">Qty</th>
				<th style="padding: 12px; text-align: right; font-weight: 600;">Unit price</th>
				<th style="padding: 12px; text-align: right; font-weight: 600;">Subtotal</th>
			</tr>
		</thead>
		<tbody>
			%s
		</tbody>
	</table>`, itemsHTML.String())
}

// formatNumber formats a number with comma separators
func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
