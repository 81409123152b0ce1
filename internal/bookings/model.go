package bookings

import "time"

// Booking status values. A booking's lifecycle is independent of and
// postdates the quote that spawned it.
const (
	StatusRequested  = "REQUESTED"
	StatusConfirmed  = "CONFIRMED"
	StatusScheduled  = "SCHEDULED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusNoShow     = "NO_SHOW"
)

// Booking represents a confirmed ride.
type Booking struct {
	ID              string     `json:"id"`
	SourceQuoteID   *string    `json:"source_quote_id,omitempty"`
	CreatedByUserID string     `json:"created_by_user_id"`
	PassengerName   string     `json:"passenger_name"`
	PassengerPhone  string     `json:"passenger_phone"`
	VehicleClass    string     `json:"vehicle_class"`
	PickupAddress   string     `json:"pickup_address"`
	DropoffAddress  string     `json:"dropoff_address"`
	PickupTime      *time.Time `json:"pickup_time,omitempty"`
	DriverUID       *string    `json:"driver_uid,omitempty"`
	Status          string     `json:"status"`
	ModifiedByUser  string     `json:"modified_by_user_id"`
	ModifiedOnUTC   time.Time  `json:"modified_on_utc"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SpawnRequest carries the quote fields copied into a spawned booking.
type SpawnRequest struct {
	QuoteID         string
	CreatedByUserID string
	PassengerName   string
	PassengerPhone  string
	VehicleClass    string
	PickupAddress   string
	DropoffAddress  string
	PickupTime      *time.Time
}

// AssignRequest is the body for PATCH /bookings/:id/assign.
type AssignRequest struct {
	DriverUID string `json:"driver_uid"`
}
