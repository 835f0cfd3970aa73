package email

import (
	"fmt"
	"html"
)

// ReservationNotice is the content of a reservation lifecycle email
type ReservationNotice struct {
	ReservationID string
	EventType     string
	Product       string
	Quantity      string
	Status        string
}

var subjects = map[string]string{
	"ReservationCreated":   "Prenotazione confermata",
	"ReservationUpdated":   "Prenotazione modificata",
	"ReservationCancelled": "Prenotazione annullata",
	"ReservationExpired":   "Prenotazione scaduta",
	"ReservationCompleted": "Ritiro completato",
}

var messages = map[string]string{
	"ReservationCreated":   "La tua prenotazione è stata registrata. La quantità indicata è riservata per te.",
	"ReservationUpdated":   "La quantità della tua prenotazione è stata aggiornata.",
	"ReservationCancelled": "La prenotazione è stata annullata e la quantità è tornata disponibile.",
	"ReservationExpired":   "Il lotto è scaduto prima del ritiro, quindi la prenotazione non è più valida.",
	"ReservationCompleted": "Il ritiro è stato registrato. Grazie per aver recuperato questo cibo.",
}

// SubjectFor returns the subject line for an event type
func SubjectFor(eventType string) string {
	if s, ok := subjects[eventType]; ok {
		return s
	}
	return "Aggiornamento prenotazione"
}

// BuildReservationNoticeBody builds the HTML body for a reservation notice
func BuildReservationNoticeBody(n ReservationNotice) string {
	message, ok := messages[n.EventType]
	if !ok {
		message = "Lo stato della tua prenotazione è cambiato."
	}

	product := n.Product
	if product == "" {
		product = "-"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2e7d32; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">%s</p>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee; color: #666;">Prenotazione</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; font-family: monospace;">%s</td>
			</tr>
			<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee; color: #666;">Prodotto</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
			</tr>
			<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee; color: #666;">Quantità</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
			</tr>
			<tr>
				<td style="padding: 12px; color: #666;">Stato</td>
				<td style="padding: 12px; font-weight: bold;">%s</td>
			</tr>
		</table>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			Questa email è stata inviata automaticamente. Non rispondere a questo messaggio.
		</p>
	</div>
</body>
</html>`,
		html.EscapeString(SubjectFor(n.EventType)),
		html.EscapeString(message),
		html.EscapeString(n.ReservationID),
		html.EscapeString(product),
		html.EscapeString(n.Quantity),
		html.EscapeString(n.Status),
	)
}
