// Package http provides HTTP handlers and middleware for the room booking API.
//
// The acting principal is taken from headers set by the authenticating
// gateway: X-User-ID (required), X-User-Email and X-User-Admin ("true" for
// administrators). The router exposes the following endpoints:
//   - GET /rooms, POST /rooms, PUT /rooms/{id}, DELETE /rooms/{id}: room catalog
//     endpoints exchanging the `roomDTO` payload defined in room_handler.go.
//     Listing is open to every principal; mutations require an administrator.
//   - GET /rooms/{id}/bookings: the caller's bookings in one room.
//   - GET /availability?start=&end=&capacity=&resources=: rooms free for the range.
//   - GET /bookings, POST /bookings: the caller's bookings grouped by room, and
//     creation of a single booking or a recurring series (`bookingRequest`).
//   - PATCH /bookings/{id}, DELETE /bookings/{id}: occurrence edits and removal.
//   - POST /bookings/{id}/checkin, POST /bookings/{id}/cancel: lifecycle transitions.
//   - GET /analytics, GET /analytics/top-rooms?limit=&mine=true: usage statistics.
//   - GET /healthz and GET /metrics are served without a principal.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
