package errx_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Abraxas-365/warden/pkg/errx"
)

var (
	testRegistry = errx.NewRegistry("TEST")
	codeMissing  = testRegistry.Register("MISSING", errx.TypeNotFound, 0, "missing")
	codeSlow     = testRegistry.Register("SLOW", errx.TypeTimeout, 0, "slow")
)

func TestRegisterPrefixesAndDefaultsStatus(t *testing.T) {
	if codeMissing.Code != "TEST_MISSING" {
		t.Fatalf("expected TEST_MISSING, got %s", codeMissing.Code)
	}
	if codeMissing.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", codeMissing.HTTPStatus)
	}
	if codeSlow.HTTPStatus != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", codeSlow.HTTPStatus)
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := testRegistry.New(codeMissing)
	outer := testRegistry.NewWithCause(codeSlow, fmt.Errorf("op: %w", inner))

	if !errx.IsCode(outer, codeSlow) {
		t.Fatal("expected outer code to match")
	}
	if !errx.IsCode(outer, codeMissing) {
		t.Fatal("expected inner code to match through the chain")
	}
	if errx.IsCode(errors.New("plain"), codeMissing) {
		t.Fatal("plain errors carry no code")
	}
}

func TestDetailFormatting(t *testing.T) {
	e := testRegistry.New(codeMissing).WithDetail("field", "client_id").WithDetail("step", 4)

	if got := e.Detail("field"); got != "client_id" {
		t.Fatalf("expected client_id, got %q", got)
	}
	if got := e.Detail("step"); got != "4" {
		t.Fatalf("expected 4, got %q", got)
	}
	if got := e.Detail("absent"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestResponseOmitsCause(t *testing.T) {
	e := testRegistry.NewWithCause(codeMissing, errors.New("secret internals"))
	resp := e.ToResponse()
	if resp.Error != "missing" || resp.Code != "TEST_MISSING" || resp.Status != http.StatusNotFound {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
