package tenantguard

import (
	"strings"
	"testing"
)

func TestRewriteNoClauseAppendsWhere(t *testing.T) {
	got, err := Rewrite("SELECT * FROM process_status", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM process_status WHERE tenant_id = :tenant_id"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteExistingWhereAddsAndClause(t *testing.T) {
	got, err := Rewrite("SELECT * FROM process_status WHERE status = 'RUNNING'", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "tenant_id = :tenant_id AND status = 'RUNNING'") {
		t.Fatalf("expected injected AND clause right after WHERE, got %q", got)
	}
}

func TestRewriteOrderByWithNoWhereInsertsWhere(t *testing.T) {
	got, err := Rewrite("SELECT * FROM process_status ORDER BY created_at DESC", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT * FROM process_status WHERE tenant_id = :tenant_id ORDER BY created_at DESC"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteGroupByWithNoWhereInsertsWhere(t *testing.T) {
	got, err := Rewrite("SELECT component, count(*) FROM process_logs GROUP BY component", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT component, count(*) FROM process_logs WHERE tenant_id = :tenant_id GROUP BY component"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteIgnoresKeywordInsideQuotedLiteral(t *testing.T) {
	got, err := Rewrite("SELECT * FROM process_logs WHERE message = 'look anywhere for where'", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	// only the real (unquoted) WHERE at the start of the clause should be matched
	if strings.Count(got, "tenant_id = :tenant_id") != 1 {
		t.Fatalf("expected exactly one injected predicate, got %q", got)
	}
	if !strings.HasPrefix(got, "SELECT * FROM process_logs WHERE tenant_id = :tenant_id AND message") {
		t.Fatalf("expected predicate injected after the real WHERE, got %q", got)
	}
}

func TestRewriteDoesNotMatchWordWithKeywordSubstring(t *testing.T) {
	// "anywhere_col" must not be mistaken for the "where" keyword.
	got, err := Rewrite("SELECT anywhere_col FROM process_logs", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT anywhere_col FROM process_logs WHERE tenant_id = :tenant_id"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewriteEmptyQueryErrors(t *testing.T) {
	if _, err := Rewrite("   ", "tenant_id"); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRewriteEmptyColumnErrors(t *testing.T) {
	if _, err := Rewrite("SELECT 1", ""); err == nil {
		t.Fatal("expected error for empty column")
	}
}

func TestRewriteUnterminatedQuoteErrors(t *testing.T) {
	if _, err := Rewrite("SELECT * FROM t WHERE x = 'unterminated", "tenant_id"); err == nil {
		t.Fatal("expected error for unterminated quoted literal")
	}
}

func TestRewriteCaseInsensitiveKeyword(t *testing.T) {
	got, err := Rewrite("select * from process_status where status = 'OK'", "tenant_id")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "tenant_id = :tenant_id AND status") {
		t.Fatalf("expected lowercase where to be matched, got %q", got)
	}
}
