package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_SendReservationNotice(t *testing.T) {
	svc := NewService("localhost", "1025", "noreply@example.org")

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	err := svc.SendReservationNotice("ente@example.org", ReservationNotice{
		ReservationID: "0123456789abcdef",
		EventType:     "ReservationCancelled",
		Product:       "Pane & focaccia",
		Quantity:      "3",
		Status:        "annullata",
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost:1025", gotAddr)
	assert.Equal(t, []string{"ente@example.org"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [Prenotazione 01234567] Prenotazione annullata")
	assert.Contains(t, gotMsg, "Pane &amp; focaccia")
	assert.Contains(t, gotMsg, "annullata")
}

func TestService_SendReservationNotice_Error(t *testing.T) {
	svc := NewService("localhost", "1025", "noreply@example.org")
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := svc.SendReservationNotice("ente@example.org", ReservationNotice{ReservationID: "r1"})
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "Prenotazione confermata", SubjectFor("ReservationCreated"))
	assert.Equal(t, "Prenotazione scaduta", SubjectFor("ReservationExpired"))
	assert.Equal(t, "Aggiornamento prenotazione", SubjectFor("Unknown"))
}

func TestBuildReservationNoticeBody_DefaultsProduct(t *testing.T) {
	body := BuildReservationNoticeBody(ReservationNotice{ReservationID: "r1", EventType: "ReservationExpired"})

	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
	assert.Contains(t, body, "non è più valida")
	assert.Contains(t, body, ">-</td>")
}
