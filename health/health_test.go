package health

import (
	"errors"
	"strings"
	"testing"
)

func TestStatus_States(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", NewHealthy("a", "ok"), true, false, false},
		{"degraded", NewDegraded("a", "slow"), false, true, false},
		{"unhealthy", NewUnhealthy("a", "down"), false, false, true},
		{"empty", Status{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsHealthy(); got != tt.healthy {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.healthy)
			}
			if got := tt.status.IsDegraded(); got != tt.degraded {
				t.Errorf("IsDegraded() = %v, want %v", got, tt.degraded)
			}
			if got := tt.status.IsUnhealthy(); got != tt.unhealthy {
				t.Errorf("IsUnhealthy() = %v, want %v", got, tt.unhealthy)
			}
			if tt.status.Healthy != tt.healthy {
				t.Errorf("Healthy = %v, want %v", tt.status.Healthy, tt.healthy)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty is healthy", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("b", ""), NewHealthy("a", "")}, StateHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("client", tt.subs)
			if got.Status != tt.want {
				t.Errorf("Aggregate() = %s, want %s", got.Status, tt.want)
			}
			if len(got.SubStatuses) != len(tt.subs) {
				t.Fatalf("SubStatuses = %d, want %d", len(got.SubStatuses), len(tt.subs))
			}
			for i := 1; i < len(got.SubStatuses); i++ {
				if got.SubStatuses[i-1].Component > got.SubStatuses[i].Component {
					t.Errorf("SubStatuses not sorted: %v", got.SubStatuses)
				}
			}
		})
	}
}

func TestStatus_WithSubStatusDoesNotShare(t *testing.T) {
	base := NewHealthy("client", "").WithSubStatus(NewHealthy("a", ""))
	one := base.WithSubStatus(NewHealthy("b", ""))
	two := base.WithSubStatus(NewHealthy("c", ""))

	if one.SubStatuses[1].Component != "b" || two.SubStatuses[1].Component != "c" {
		t.Errorf("sub-statuses share storage: %v %v", one.SubStatuses, two.SubStatuses)
	}
	if len(base.SubStatuses) != 1 {
		t.Errorf("base modified: %v", base.SubStatuses)
	}

	withMetrics := base.WithMetrics(&Metrics{PendingRequests: 3})
	if withMetrics.Metrics.PendingRequests != 3 || base.Metrics != nil {
		t.Errorf("WithMetrics must copy")
	}
}

func TestFromError(t *testing.T) {
	ok := FromError("transport", nil, "connected")
	if !ok.IsHealthy() || ok.Message != "connected" {
		t.Errorf("FromError(nil) = %+v", ok)
	}

	bad := FromError("transport", errors.New("dial nats://10.0.0.5:4222 failed password=hunter2"), "")
	if !bad.IsUnhealthy() {
		t.Errorf("FromError(err) = %+v", bad)
	}
	for _, leak := range []string{"10.0.0.5", "hunter2", "nats://"} {
		if strings.Contains(bad.Message, leak) {
			t.Errorf("message %q leaks %q", bad.Message, leak)
		}
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain message", "plain message"},
		{"open /home/user/vbus/app.conf: denied", "open [PATH]: denied"},
		{"connect to 192.168.1.4 refused", "connect to [IP] refused"},
		{"token=abc123", "[REDACTED]"},
		{"see https://example.com/x now", "see [URL] now"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("transport", "connected")
	m.UpdateDegraded("publisher", "queue full")

	if got := m.AggregateHealth("client"); !got.IsDegraded() {
		t.Errorf("AggregateHealth() = %s, want degraded", got.Status)
	}

	m.UpdateUnhealthy("transport", "lost")
	m.UpdateUnhealthy("transport", "lost again")
	if got := m.AggregateHealth("client"); !got.IsUnhealthy() {
		t.Errorf("AggregateHealth() = %s, want unhealthy", got.Status)
	}
	if got := m.ErrorCount(); got != 2 {
		t.Errorf("ErrorCount() = %d, want 2", got)
	}

	status, ok := m.Get("transport")
	if !ok || status.Component != "transport" || status.Message != "lost again" {
		t.Errorf("Get() = %+v, %v", status, ok)
	}

	m.Remove("transport")
	if _, ok := m.Get("transport"); ok {
		t.Error("removed component still tracked")
	}
	if got := m.ErrorCount(); got != 0 {
		t.Errorf("ErrorCount() after remove = %d, want 0", got)
	}
}
