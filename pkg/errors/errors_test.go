package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	t.Parallel()
	err := New(ErrAuctionNotFound, "auction not found")
	require.Equal(t, "auction not found", err.Error())

	wrapped := Wrap(stderrors.New("connection refused"), "failed to persist bid")
	require.Equal(t, "failed to persist bid: connection refused", wrapped.Error())
	require.Equal(t, ErrInternalServer, wrapped.Code)
}

func TestCodeExtraction(t *testing.T) {
	t.Parallel()
	err := New(ErrBidTooLow, "bid is below the minimum")
	require.Equal(t, ErrBidTooLow, Code(err))
	require.True(t, Is(err, ErrBidTooLow))
	require.False(t, Is(err, ErrAuctionNotFound))

	// Codes survive fmt wrapping.
	deep := fmt.Errorf("handling message: %w", err)
	require.Equal(t, ErrBidTooLow, Code(deep))

	require.Zero(t, Code(stderrors.New("plain")))
	require.Zero(t, Code(nil))
}

func TestUnwrapChain(t *testing.T) {
	t.Parallel()
	cause := stderrors.New("serialization failure")
	err := Wrap(cause, "failed to persist bid")
	require.ErrorIs(t, err, cause)
}

func TestBelowMinimum(t *testing.T) {
	t.Parallel()
	minimum := decimal.NewFromInt(1100)
	err := BelowMinimum(minimum)
	require.Equal(t, ErrBidTooLow, err.Code)
	require.NotNil(t, err.Minimum)
	require.True(t, err.Minimum.Equal(minimum))
	require.Contains(t, err.Message, "1100")
}

func TestToJSON(t *testing.T) {
	t.Parallel()
	err := BelowMinimum(decimal.NewFromInt(1100))
	require.JSONEq(t,
		`{"type":"error","code":1003,"message":"bid is below the minimum of 1100","minimum":"1100"}`,
		err.ToJSON())

	plain := New(ErrAuctionNotActive, "auction is not active")
	require.JSONEq(t,
		`{"type":"error","code":1004,"message":"auction is not active"}`,
		plain.ToJSON())
}
