package models

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrNotFound = status.Errorf(codes.NotFound, "not found")

// Relay error taxonomy. Every sentinel carries a grpc code so transports can
// map failures without knowing the concrete error.
var (
	ErrInvalidRequest       = status.Error(codes.InvalidArgument, "invalid request")
	ErrMissingMessage       = status.Error(codes.InvalidArgument, "message is required")
	ErrUnknownOrigin        = status.Error(codes.InvalidArgument, "unknown request origin")
	ErrSuspended            = status.Error(codes.PermissionDenied, "user is suspended")
	ErrNoPersonnelAvailable = status.Error(codes.Unavailable, "no personnel available")
	ErrNotConnected         = status.Error(codes.FailedPrecondition, "operator is not connected")
	ErrTransportClosed      = status.Error(codes.Unavailable, "operator transport closed")
	ErrStorageConflict      = status.Error(codes.AlreadyExists, "storage conflict")
	ErrUnauthorized         = status.Error(codes.Unauthenticated, "unauthorized")
	ErrForbidden            = status.Error(codes.PermissionDenied, "forbidden")
)

// Code extracts the grpc code carried by err or by any error it wraps.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	for e := err; e != nil; {
		if st, ok := status.FromError(e); ok {
			return st.Code()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return codes.Unknown
}
