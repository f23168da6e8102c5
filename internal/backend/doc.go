// Package backend is the HTTP client for the energy-management REST API.
//
// The backend owns device state. This package only speaks its fixed
// contract:
//
//	GET    /api/devices/house/{houseId}     device list
//	POST   /api/devices/{deviceId}/toggle   {message, device?}
//	GET    /api/devices/{deviceId}
//	POST   /api/devices
//	PUT    /api/devices/{deviceId}
//	DELETE /api/devices/{deviceId}
//	GET    /api/devices/stream/{houseId}?token=...   text/event-stream
//
// Every call takes the credential explicitly. REST calls send it as a bearer
// header; the event stream carries it as a query parameter because browsers'
// EventSource cannot set headers and the backend kept that contract.
//
// A 401 or 403 response yields an *APIError that matches ErrUnauthorized
// under errors.Is. Requests are never retried here.
package backend
