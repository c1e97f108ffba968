package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

// PatientContact is the display data needed to address a patient.
type PatientContact struct {
	Email string
	Name  string
}

// PatientDirectory resolves a patient reference into contact details. The
// identity system owning patients lives outside this service.
type PatientDirectory interface {
	GetContact(ctx context.Context, patientID uuid.UUID) (*PatientContact, error)
}

// AppointmentDetails resolves an appointment reference into display data.
type AppointmentDetails interface {
	GetStartTime(ctx context.Context, appointmentID uuid.UUID) (time.Time, error)
}

// Service sends booking lifecycle emails to patients. Every method is
// fire-and-forget: failures are logged, never propagated, so a broken mail
// provider cannot stall a payment state transition.
type Service struct {
	email        EmailSender
	patients     PatientDirectory
	appointments AppointmentDetails
	logger       *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, patients PatientDirectory, appointments AppointmentDetails, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:        email,
		patients:     patients,
		appointments: appointments,
		logger:       logger,
	}
}

// SendAppointmentConfirmation tells the patient their appointment is booked.
func (s *Service) SendAppointmentConfirmation(ctx context.Context, patientID, appointmentID uuid.UUID) {
	body := "Your appointment is confirmed."
	if when, ok := s.startTime(ctx, appointmentID); ok {
		body = fmt.Sprintf("Your appointment on %s is confirmed.", when.Format("Monday, January 2 at 3:04 PM"))
	}
	s.send(ctx, patientID, appointmentID, "Appointment confirmed", body)
}

// SendPaymentFailed tells the patient their payment did not go through.
func (s *Service) SendPaymentFailed(ctx context.Context, patientID, appointmentID uuid.UUID) {
	s.send(ctx, patientID, appointmentID, "Payment failed",
		"Your payment could not be completed and the appointment was not booked. Please try again with a different payment method.")
}

// SendRefundSuccess confirms a settled refund and its amount.
func (s *Service) SendRefundSuccess(ctx context.Context, patientID, appointmentID uuid.UUID, amountCents int64, currency string) {
	body := fmt.Sprintf("Your refund of %d.%02d %s has been processed. The appointment has been cancelled.",
		amountCents/100, amountCents%100, currency)
	s.send(ctx, patientID, appointmentID, "Refund processed", body)
}

// SendRefundFailed tells the patient their refund could not be completed.
func (s *Service) SendRefundFailed(ctx context.Context, patientID, appointmentID uuid.UUID, reason string) {
	body := "Your refund could not be processed. Our team has been notified."
	if reason != "" {
		body = fmt.Sprintf("Your refund could not be processed: %s. Our team has been notified.", reason)
	}
	s.send(ctx, patientID, appointmentID, "Refund failed", body)
}

func (s *Service) startTime(ctx context.Context, appointmentID uuid.UUID) (time.Time, bool) {
	if s.appointments == nil {
		return time.Time{}, false
	}
	when, err := s.appointments.GetStartTime(ctx, appointmentID)
	if err != nil {
		s.logger.Debug("notify: appointment lookup failed", "error", err, "appointment_id", appointmentID)
		return time.Time{}, false
	}
	return when, true
}

func (s *Service) send(ctx context.Context, patientID, appointmentID uuid.UUID, subject, body string) {
	if s.email == nil {
		s.logger.Debug("notify: no email sender configured, skipping", "subject", subject)
		return
	}

	contact, err := s.patients.GetContact(ctx, patientID)
	if err != nil {
		s.logger.Error("notify: patient lookup failed",
			"error", err, "patient_id", patientID, "appointment_id", appointmentID)
		return
	}
	if contact.Email == "" {
		s.logger.Warn("notify: patient has no email on file", "patient_id", patientID)
		return
	}

	msg := EmailMessage{
		To:      contact.Email,
		ToName:  contact.Name,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: send failed",
			"error", err, "subject", subject, "patient_id", patientID)
		return
	}
	s.logger.Info("notification sent", "subject", subject, "patient_id", patientID)
}
