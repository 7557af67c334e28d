package policy

import (
	"testing"
	"time"

	"github.com/carealert/carealert/internal/domain/event"
	"github.com/carealert/carealert/internal/domain/responder"
	"github.com/carealert/carealert/internal/engine/dispatch"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default table invalid: %v", err)
	}
}

func TestDefault_SeverityDeadlines(t *testing.T) {
	tbl := Default()
	cases := []struct {
		severity event.Severity
		want     time.Duration
	}{
		{event.SeverityCatastrophic, 2 * time.Minute},
		{event.SeverityCritical, 5 * time.Minute},
		{event.SeverityHigh, 15 * time.Minute},
		{event.SeverityMedium, 30 * time.Minute},
		{event.SeverityLow, 60 * time.Minute},
	}
	for _, c := range cases {
		step := tbl.Step(event.KindMedicalEmergency, c.severity, 1)
		if step.After != c.want {
			t.Errorf("%s level 1 deadline = %s, want %s", c.severity, step.After, c.want)
		}
	}
}

func TestDefault_LadderShape(t *testing.T) {
	tbl := Default()
	l := tbl.Ladder(event.KindFall, event.SeverityHigh)
	if len(l) != 3 {
		t.Fatalf("ladder length = %d, want 3", len(l))
	}
	roles := []responder.Role{responder.RolePrimary, responder.RoleSecondary, responder.RoleManager}
	for i, want := range roles {
		if l[i].TargetRole != want {
			t.Errorf("rung %d target = %s, want %s", i+1, l[i].TargetRole, want)
		}
	}
	if !l[2].PromoteSeverity {
		t.Error("manager rung must promote severity")
	}
	// Escalated rungs wait at most half the base deadline.
	if l[1].After >= l[0].After {
		t.Errorf("rung 2 deadline %s not shorter than rung 1 %s", l[1].After, l[0].After)
	}
}

func TestLadder_StepClamps(t *testing.T) {
	tbl := Default()
	last := tbl.Step(event.KindFall, event.SeverityHigh, 3)
	beyond := tbl.Step(event.KindFall, event.SeverityHigh, 99)
	if beyond.TargetRole != last.TargetRole || beyond.After != last.After {
		t.Fatal("levels past the ladder must clamp to the last rung")
	}
	first := tbl.Step(event.KindFall, event.SeverityHigh, 0)
	if first.TargetRole != responder.RolePrimary {
		t.Fatal("level 0 must clamp to rung 1")
	}
}

func TestDefault_ChannelBreadthFollowsSeverity(t *testing.T) {
	tbl := Default()
	low := tbl.Step(event.KindFall, event.SeverityLow, 1)
	if len(low.Channels) != 1 || low.Channels[0] != dispatch.ChannelPush {
		t.Fatalf("LOW channels = %v, want push only", low.Channels)
	}
	crit := tbl.Step(event.KindMedicalEmergency, event.SeverityCritical, 1)
	if len(crit.Channels) != 3 {
		t.Fatalf("CRITICAL channels = %v, want push+sms+voice", crit.Channels)
	}
	if crit.Responders != 2 {
		t.Fatalf("CRITICAL responders = %d, want 2", crit.Responders)
	}
	cat := tbl.Step(event.KindMedicalEmergency, event.SeverityCatastrophic, 1)
	if cat.Responders != 3 {
		t.Fatalf("CATASTROPHIC responders = %d, want 3", cat.Responders)
	}
}

func TestDefault_FireOverride(t *testing.T) {
	tbl := Default()
	step := tbl.Step(event.KindFire, event.SeverityLow, 1)
	if step.After > 5*time.Minute {
		t.Fatalf("low-severity fire deadline = %s, must be capped at 5m", step.After)
	}
	// Other low-severity kinds keep the default hour.
	if d := tbl.Step(event.KindFall, event.SeverityLow, 1).After; d != 60*time.Minute {
		t.Fatalf("low-severity fall deadline = %s, want 60m", d)
	}
}

func TestDefault_MissedDosePromotesOnSecondRung(t *testing.T) {
	tbl := Default()
	l := tbl.Ladder(event.KindMissedDose, event.SeverityLow)
	if l[0].After != 60*time.Minute {
		t.Fatalf("missed dose first deadline = %s, want 60m", l[0].After)
	}
	if !l[1].PromoteSeverity {
		t.Fatal("an ignored missed dose must promote severity at level 2")
	}
}

func TestTable_SetOverrides(t *testing.T) {
	tbl := Default()
	custom := Ladder{{
		After:      time.Minute,
		TargetRole: responder.RoleManager,
		Channels:   []dispatch.Channel{dispatch.ChannelVoice},
		Responders: 1,
	}}
	tbl.Set(event.KindSecurity, event.SeverityHigh, custom)

	got := tbl.Step(event.KindSecurity, event.SeverityHigh, 1)
	if got.After != time.Minute || got.TargetRole != responder.RoleManager {
		t.Fatal("override not applied")
	}
	// Same kind at another severity keeps the default.
	if d := tbl.Step(event.KindSecurity, event.SeverityLow, 1).After; d != 60*time.Minute {
		t.Fatalf("non-overridden severity changed: %s", d)
	}
}
