package quotes

import "time"

// Status is the closed set of quote lifecycle states. Nothing outside this
// file defines or compares raw status strings.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResponded    Status = "RESPONDED"
	StatusAccepted     Status = "ACCEPTED"
	StatusCancelled    Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusCancelled
}

// Quote represents a priced-ride request.
type Quote struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	CreatedByUserID string `json:"created_by_user_id"`

	PassengerName       string    `json:"passenger_name"`
	PassengerPhone      string    `json:"passenger_phone"`
	VehicleClass        string    `json:"vehicle_class"`
	PickupAddress       string    `json:"pickup_address"`
	DropoffAddress      string    `json:"dropoff_address"`
	RequestedPickupTime time.Time `json:"requested_pickup_time"`

	AcknowledgedAt       *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedByUserID *string    `json:"acknowledged_by_user_id,omitempty"`

	RespondedAt         *time.Time `json:"responded_at,omitempty"`
	RespondedByUserID   *string    `json:"responded_by_user_id,omitempty"`
	EstimatedPrice      *float64   `json:"estimated_price,omitempty"`
	EstimatedPickupTime *time.Time `json:"estimated_pickup_time,omitempty"`
	Notes               *string    `json:"notes,omitempty"`

	ModifiedByUserID string    `json:"modified_by_user_id"`
	ModifiedOnUTC    time.Time `json:"modified_on_utc"`
	CreatedAt        time.Time `json:"created_at"`
}

// SubmitRequest is the body for POST /quotes.
type SubmitRequest struct {
	PassengerName       string    `json:"passenger_name"`
	PassengerPhone      string    `json:"passenger_phone"`
	VehicleClass        string    `json:"vehicle_class"`
	PickupAddress       string    `json:"pickup_address"`
	DropoffAddress      string    `json:"dropoff_address"`
	RequestedPickupTime time.Time `json:"requested_pickup_time"`
}

// RespondRequest is the body for PATCH /quotes/:id/respond.
type RespondRequest struct {
	EstimatedPrice      float64   `json:"estimated_price"`
	EstimatedPickupTime time.Time `json:"estimated_pickup_time"`
	Notes               string    `json:"notes"`
}

// AcceptResponse is returned by PATCH /quotes/:id/accept.
type AcceptResponse struct {
	Quote         *Quote `json:"quote"`
	BookingID     string `json:"booking_id"`
	SourceQuoteID string `json:"source_quote_id"`
}
