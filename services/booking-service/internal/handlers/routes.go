package handlers

import "net/http"

// PublicPrefix marks client-facing routes that get rate limiting and CORS.
const PublicPrefix = "/api/v1/public/"

type Routes struct {
	Bookings  *BookingHandler
	Blocks    *BlockHandler
	Employees *EmployeeHandler
}

func (rt Routes) Register(mux *http.ServeMux) {
	mux.HandleFunc(PublicPrefix+"slots", rt.Bookings.Slots)
	mux.HandleFunc(PublicPrefix+"book", rt.Bookings.Book)

	mux.HandleFunc("/api/v1/appointments", rt.Bookings.List)
	mux.HandleFunc("/api/v1/appointments/get", rt.Bookings.Get)
	mux.HandleFunc("/api/v1/appointments/confirm", rt.Bookings.Confirm)
	mux.HandleFunc("/api/v1/appointments/complete", rt.Bookings.Complete)
	mux.HandleFunc("/api/v1/appointments/cancel", rt.Bookings.Cancel)

	mux.HandleFunc("/api/v1/blocks", rt.Blocks.Blocks)
	mux.HandleFunc("/api/v1/blocks/deactivate", rt.Blocks.Deactivate)

	mux.HandleFunc("/api/v1/employees", rt.Employees.Upsert)
}
