package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pixperk/stompguard/pkg/types"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrResourceBusy), errors.Is(err, types.ErrLockHeld):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, types.ErrInvalidHandle):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrUnknownResourceClass),
		errors.Is(err, types.ErrInvalidDescriptor),
		errors.Is(err, types.ErrInvalidLeaseTTL),
		errors.Is(err, types.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
