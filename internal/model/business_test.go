package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWeekdayJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Weekday
	}{
		{`null`, EveryDay},
		{`-1`, EveryDay},
		{`"*"`, EveryDay},
		{`0`, 0},
		{`6`, 6},
	}
	for _, tt := range tests {
		var w Weekday
		if err := json.Unmarshal([]byte(tt.in), &w); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if w != tt.want {
			t.Errorf("unmarshal %s = %d, want %d", tt.in, w, tt.want)
		}
	}

	for _, bad := range []string{`7`, `-2`, `"monday"`} {
		var w Weekday
		if err := json.Unmarshal([]byte(bad), &w); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}

	out, err := json.Marshal(EveryDay)
	if err != nil || string(out) != "null" {
		t.Errorf("marshal EveryDay = %s, %v", out, err)
	}
}

func TestBonusPeriodWithoutDayMatchesEveryDay(t *testing.T) {
	var p BonusPeriod
	in := `{"id":"x","startTime":"09:00","endTime":"17:00","bonusType":"fixed","bonusValue":1}`
	if err := json.Unmarshal([]byte(in), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.DayOfWeek != EveryDay {
		t.Fatalf("dayOfWeek = %d, want EveryDay", p.DayOfWeek)
	}
	// 2026-10-12 is a Monday.
	monday := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	if !p.Valid() || !p.ActiveAt(monday) || !p.ActiveAt(monday.AddDate(0, 0, 6)) {
		t.Error("period without a day should be active every day")
	}

	if err := json.Unmarshal([]byte(`{"dayOfWeek":0,"startTime":"09:00","endTime":"17:00"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.DayOfWeek != 0 {
		t.Errorf("explicit Sunday decoded as %d", p.DayOfWeek)
	}
	if err := json.Unmarshal([]byte(`{"dayOfWeek":9}`), &p); err == nil {
		t.Error("expected error for out of range day")
	}
}

func TestBonusPeriodActiveAt(t *testing.T) {
	// 2026-10-14 is a Wednesday.
	wed := func(hhmm string) time.Time {
		ts, _ := time.Parse("2006-01-02 15:04", "2026-10-14 "+hhmm)
		return ts
	}
	p := BonusPeriod{DayOfWeek: Weekday(time.Wednesday), StartTime: "09:00", EndTime: "17:00", BonusType: BonusFixed, BonusValue: 1}

	tests := []struct {
		at   time.Time
		want bool
	}{
		{wed("08:59"), false},
		{wed("09:00"), true},
		{wed("12:30"), true},
		{wed("17:00"), true},
		{wed("17:01"), false},
		{wed("10:00").AddDate(0, 0, 1), false},
	}
	for _, tt := range tests {
		if got := p.ActiveAt(tt.at); got != tt.want {
			t.Errorf("ActiveAt(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}

	p.DayOfWeek = EveryDay
	if !p.ActiveAt(wed("10:00").AddDate(0, 0, 3)) {
		t.Error("wildcard period should match any weekday")
	}
}

func TestBonusPeriodStamps(t *testing.T) {
	if got := (BonusPeriod{BonusType: BonusFixed, BonusValue: 1}).Stamps(); got != 2 {
		t.Errorf("fixed 1 = %d, want 2", got)
	}
	if got := (BonusPeriod{BonusType: BonusMultiplier, BonusValue: 3}).Stamps(); got != 3 {
		t.Errorf("multiplier 3 = %d, want 3", got)
	}
	if got := (BonusPeriod{BonusType: BonusMultiplier, BonusValue: 0}).Stamps(); got != 1 {
		t.Errorf("multiplier 0 = %d, want 1", got)
	}
}

func TestBonusPeriodValid(t *testing.T) {
	ok := BonusPeriod{StartTime: "09:00", EndTime: "17:00", BonusType: BonusFixed, BonusValue: 1}
	if !ok.Valid() {
		t.Error("expected valid period")
	}
	for _, p := range []BonusPeriod{
		{StartTime: "9:00", EndTime: "17:00", BonusType: BonusFixed, BonusValue: 1},
		{StartTime: "09:00", EndTime: "25:00", BonusType: BonusFixed, BonusValue: 1},
		{StartTime: "09:00", EndTime: "17:00", BonusType: "double", BonusValue: 1},
		{StartTime: "09:00", EndTime: "17:00", BonusType: BonusFixed, BonusValue: 0},
	} {
		if p.Valid() {
			t.Errorf("expected invalid period %+v", p)
		}
	}
}

func TestBonusPeriodsScan(t *testing.T) {
	var b BonusPeriods
	raw := []byte(`[{"id":"a","dayOfWeek":null,"startTime":"09:00","endTime":"10:00","bonusType":"fixed","bonusValue":2}]`)
	if err := b.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(b) != 1 || b[0].DayOfWeek != EveryDay || b[0].BonusValue != 2 {
		t.Fatalf("unexpected periods %+v", b)
	}
	v, err := BonusPeriods(nil).Value()
	if err != nil || string(v.([]byte)) != "[]" {
		t.Errorf("nil Value = %v, %v", v, err)
	}
}

func TestBusinessDefaults(t *testing.T) {
	b := Business{}
	if b.CardSize() != DefaultMaxStamps {
		t.Errorf("card size = %d", b.CardSize())
	}
	if b.WelcomeSeed() != 0 {
		t.Errorf("welcome seed = %d", b.WelcomeSeed())
	}
	if b.Cooldown() != 0 {
		t.Errorf("cooldown = %s, want none", b.Cooldown())
	}
	if b.Location() != time.UTC {
		t.Errorf("location = %v", b.Location())
	}
	b.WelcomeStampsEnabled, b.WelcomeStamps = true, 3
	if b.WelcomeSeed() != 3 {
		t.Errorf("welcome seed = %d", b.WelcomeSeed())
	}
}

func TestIdentityKey(t *testing.T) {
	if k := (Identity{UserID: "u1"}).Key(); k != "user:u1" {
		t.Errorf("key = %q", k)
	}
	if k := (Identity{SessionID: "s"}).Key(); k != "anon:s" {
		t.Errorf("key = %q", k)
	}
	if !(Identity{UserID: "  "}).Anonymous() {
		t.Error("blank user id should be anonymous")
	}
}
