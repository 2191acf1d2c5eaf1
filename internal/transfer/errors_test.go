package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &Error{Kind: KindNotFound, Op: "get", URI: "http://repo/a.jar", StatusCode: 404, Message: "404 Not Found"},
			want: "get http://repo/a.jar failed (HTTP 404): 404 Not Found",
		},
		{
			name: "message falls back to the cause",
			err:  &Error{Kind: KindTransfer, Op: "put", URI: "http://repo/a.jar", Err: io.ErrUnexpectedEOF},
			want: "put http://repo/a.jar failed: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindTransfer, Err: io.ErrUnexpectedEOF})

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is should find the underlying cause")
	}

	var te *Error
	if !errors.As(err, &te) {
		t.Fatal("errors.As should find *Error")
	}

	if te.Kind != KindTransfer {
		t.Errorf("Kind = %v, want %v", te.Kind, KindTransfer)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		code    int
		wantErr bool
		kind    Kind
	}{
		{200, false, 0},
		{206, false, 0},
		{301, true, KindTransfer},
		{401, true, KindUnauthorized},
		{403, true, KindUnauthorized},
		{404, true, KindNotFound},
		{407, true, KindUnauthorized},
		{416, true, KindTransfer},
		{500, true, KindTransfer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := CheckStatus("get", "http://repo/a", tt.code, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckStatus(%d) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}

			if err != nil && KindOf(err) != tt.kind {
				t.Errorf("KindOf = %v, want %v", KindOf(err), tt.kind)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(context.Canceled) != KindCancelled {
		t.Error("context.Canceled should map to KindCancelled")
	}

	if KindOf(errors.New("boom")) != KindTransfer {
		t.Error("plain errors should map to KindTransfer")
	}

	if !IsNotFound(&Error{Kind: KindNotFound}) {
		t.Error("IsNotFound should match KindNotFound")
	}

	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) should be false")
	}
}
