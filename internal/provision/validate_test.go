package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bkonick/kiln/internal/config"
)

// TestValidate_Passes tests a well-formed request on a well-prepared host.
func TestValidate_Passes(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.validate(context.Background(), testRequest(t)); err != nil {
		t.Fatalf("expected the request to pass validation, got: %v", err)
	}
}

// TestValidate_Failures tests that each precondition failure is reported as
// a *ValidationError naming the failed check.
func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.TemplateRequest)
		setupMock func(*testDeps)
		wantCheck string
		wantMsg   string
	}{
		{
			name:      "structurally invalid request",
			mutate:    func(r *config.TemplateRequest) { r.Release = "warty" },
			wantCheck: "request",
			wantMsg:   "not supported",
		},
		{
			name:      "missing key material",
			mutate:    func(r *config.TemplateRequest) { r.SSHKeys = nil },
			wantCheck: "ssh keys",
			wantMsg:   "key policy",
		},
		{
			name:      "user-data file missing",
			mutate:    func(r *config.TemplateRequest) { r.UserDataFile = "/nonexistent/user-data.yaml" },
			wantCheck: "user data",
		},
		{
			name: "unprivileged process",
			setupMock: func(d *testDeps) {
				d.host.privilegedFunc = func() bool { return false }
			},
			wantCheck: "privilege",
			wantMsg:   "root",
		},
		{
			name: "management tool missing",
			setupMock: func(d *testDeps) {
				d.host.toolPresentFunc = func(name string) bool { return name != "pvesh" }
			},
			wantCheck: "tools",
			wantMsg:   "pvesh",
		},
		{
			name: "bridge not configured",
			setupMock: func(d *testDeps) {
				d.host.bridgeExistsFunc = func(bridge string) bool { return false }
			},
			wantCheck: "bridge",
			wantMsg:   "vmbr0",
		},
		{
			name: "scratch filesystem full",
			setupMock: func(d *testDeps) {
				d.host.availableBytesFunc = func(path string) (uint64, error) {
					return 1 << 30, nil
				}
			},
			wantCheck: "scratch space",
		},
		{
			name:   "pool capacity short",
			mutate: func(r *config.TemplateRequest) { r.DiskExtraGiB = 100 },
			setupMock: func(d *testDeps) {
				d.guests.storageAvailableBytesFunc = func(ctx context.Context, pool string) (uint64, error) {
					return 50 << 30, nil
				}
			},
			wantCheck: "storage capacity",
		},
		{
			name: "mirror unreachable",
			setupMock: func(d *testDeps) {
				d.fetcher.reachableFunc = func(ctx context.Context) error {
					return errors.New("dial tcp: no route to host")
				}
			},
			wantCheck: "mirror",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, deps := newTestOrchestrator(t)
			if tt.setupMock != nil {
				tt.setupMock(deps)
			}
			req := testRequest(t)
			if tt.mutate != nil {
				tt.mutate(req)
			}

			err := o.validate(context.Background(), req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if ve.Check != tt.wantCheck {
				t.Errorf("expected check %q to fail, got %q", tt.wantCheck, ve.Check)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

// TestValidate_KeyPolicyOptOut tests that require_ssh_key: false permits a
// keyless request.
func TestValidate_KeyPolicyOptOut(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := testRequest(t)
	req.SSHKeys = nil
	optOut := false
	req.RequireSSHKey = &optOut

	if err := o.validate(context.Background(), req); err != nil {
		t.Fatalf("expected the opt-out to pass validation, got: %v", err)
	}
}

// TestValidate_LocalChecksRunFirst tests check ordering: a local failure is
// reported before the node API or the mirror is consulted.
func TestValidate_LocalChecksRunFirst(t *testing.T) {
	o, deps := newTestOrchestrator(t)
	deps.host.privilegedFunc = func() bool { return false }
	deps.fetcher.reachableFunc = func(ctx context.Context) error {
		return errors.New("dial tcp: no route to host")
	}

	err := o.validate(context.Background(), testRequest(t))

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if ve.Check != "privilege" {
		t.Errorf("expected the privilege check to fail first, got %q", ve.Check)
	}
	if deps.fetcher.reachableCalls != 0 {
		t.Error("the mirror must not be probed after a local check failed")
	}
	if len(deps.guests.ops) != 0 {
		t.Errorf("the node API must not be queried after a local check failed, got %v", deps.guests.ops)
	}
}
