package enginehealth

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{BaseCooldown: 10 * time.Millisecond, MaxCooldown: 100 * time.Millisecond}
}

func TestNewEngineAssumedHealthyWithFullRate(t *testing.T) {
	tr := New(testConfig())
	if !tr.IsHealthy("duckduckgo") {
		t.Error("new engine should be healthy")
	}
	if tr.SuccessRate("duckduckgo") != 1.0 {
		t.Errorf("new engine should have rate 1.0, got %f", tr.SuccessRate("duckduckgo"))
	}
}

func TestReportFailureTriggersCooldown(t *testing.T) {
	tr := New(testConfig())
	tr.ReportFailure("bing")
	if tr.IsHealthy("bing") {
		t.Error("engine should be unhealthy immediately after a failure")
	}
}

func TestCooldownExpiresAndResetsConsecutiveFailures(t *testing.T) {
	tr := New(testConfig())
	tr.ReportFailure("bing")
	time.Sleep(15 * time.Millisecond)
	if !tr.IsHealthy("bing") {
		t.Error("engine should be healthy again after cooldown elapses")
	}
	tr.mu.Lock()
	cf := tr.stats["bing"].consecutiveFailures
	tr.mu.Unlock()
	if cf != 0 {
		t.Errorf("expected consecutive_failures reset to 0, got %d", cf)
	}
}

func TestReportSuccessResetsCooldown(t *testing.T) {
	tr := New(testConfig())
	tr.ReportFailure("google")
	tr.ReportSuccess("google")
	if !tr.IsHealthy("google") {
		t.Error("engine should be healthy immediately after a reported success")
	}
}

func TestGetHealthyEnginesOrdersBySuccessRateDescending(t *testing.T) {
	tr := New(testConfig())
	// a's failure comes first so its later successes clear the cooldown and
	// it stays healthy, with rate 2/3.
	tr.ReportFailure("a")
	tr.ReportSuccess("a")
	tr.ReportSuccess("a")
	tr.ReportSuccess("b")

	healthy := tr.GetHealthyEngines([]string{"a", "b"})
	if len(healthy) != 2 || healthy[0] != "b" {
		t.Errorf("expected b ranked first (rate 1.0 vs a's 0.67), got %v", healthy)
	}
}

func TestGetHealthyEnginesExcludesCooldownEngines(t *testing.T) {
	tr := New(Config{BaseCooldown: time.Hour, MaxCooldown: time.Hour})
	tr.ReportFailure("bing")
	healthy := tr.GetHealthyEngines([]string{"bing", "duckduckgo"})
	if len(healthy) != 1 || healthy[0] != "duckduckgo" {
		t.Errorf("expected only duckduckgo to remain healthy, got %v", healthy)
	}
}
