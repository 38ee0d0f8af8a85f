package router

import (
	"reflect"
	"testing"
)

func exampleTable(t *testing.T) *Table {
	t.Helper()
	matches := []MatchConfig{
		{Name: "mydomain", AddrRexs: []string{`.*@mydomain\.com`, `.*@m\.mydomain\.com`}},
		{Name: "personal", Addrs: []string{"first.last@mydomain.com", "secret.name@mydomain.com"}},
	}
	boxes := []MailboxConfig{
		{Name: "spam", Rules: []RuleConfig{{MatchName: "mydomain", Negate: true, StopCheck: true}}},
		{Name: "important", Rules: []RuleConfig{{MatchName: "personal"}}},
		{Name: "all", Rules: []RuleConfig{{MatchName: DefaultMatchAll}}},
	}
	table, err := Compile(matches, boxes)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return table
}

func TestGetMboxesScenarioS6(t *testing.T) {
	table := exampleTable(t)

	tests := []struct {
		addr string
		want []string
	}{
		{"foo@bar.com", []string{"spam"}},
		{"foo@mydomain.com", []string{"all"}},
		{"first.last@mydomain.com", []string{"important", "all"}},
	}

	for _, tt := range tests {
		got := table.GetMboxes(tt.addr)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GetMboxes(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestGetMboxesNoMatchIsEmpty(t *testing.T) {
	table, err := Compile([]MatchConfig{{Name: "one", Addrs: []string{"a@b.com"}}}, []MailboxConfig{
		{Name: "only", Rules: []RuleConfig{{MatchName: "one"}}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := table.GetMboxes("x@y.com"); got != nil {
		t.Errorf("GetMboxes(no matching rule) = %v, want nil", got)
	}
}

func TestGetMboxesDropsNullMbox(t *testing.T) {
	matches := []MatchConfig{{Name: "anything", Addrs: []string{"a@b.com"}}}
	boxes := []MailboxConfig{
		{Name: DefaultNullMbox, Rules: []RuleConfig{{MatchName: "anything", StopCheck: true}}},
		{Name: "fallback", Rules: []RuleConfig{{MatchName: DefaultMatchAll}}},
	}
	table, err := Compile(matches, boxes)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := table.GetMboxes("a@b.com"); got != nil {
		t.Errorf("GetMboxes(null-mbox match, stop) = %v, want nil (dropped, then stopped)", got)
	}
}

func TestCompileRejectsBadMatch(t *testing.T) {
	if _, err := Compile([]MatchConfig{{Name: "bad"}}, nil); err == nil {
		t.Error("Compile with neither addrs nor addr_rexs should fail")
	}
	if _, err := Compile([]MatchConfig{{Name: "bad", Addrs: []string{"x"}, AddrRexs: []string{"y"}}}, nil); err == nil {
		t.Error("Compile with both addrs and addr_rexs should fail")
	}
}

func TestCompileRejectsUnknownRuleMatch(t *testing.T) {
	boxes := []MailboxConfig{{Name: "box", Rules: []RuleConfig{{MatchName: "missing"}}}}
	if _, err := Compile(nil, boxes); err == nil {
		t.Error("Compile with unknown match_name should fail")
	}
}

func TestGetMboxesMayContainDuplicates(t *testing.T) {
	matches := []MatchConfig{{Name: "all1", Addrs: []string{"a@b.com"}}}
	boxes := []MailboxConfig{
		{Name: "same", Rules: []RuleConfig{{MatchName: "all1"}}},
		{Name: "same", Rules: []RuleConfig{{MatchName: DefaultMatchAll}}},
	}
	table, err := Compile(matches, boxes)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []string{"same", "same"}
	if got := table.GetMboxes("a@b.com"); !reflect.DeepEqual(got, want) {
		t.Errorf("GetMboxes = %v, want %v (duplicates preserved, caller dedupes)", got, want)
	}
}
