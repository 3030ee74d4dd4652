package natsadapter

import "testing"

func TestSubject(t *testing.T) {
	cases := map[string]string{
		"emp-42":     "fieldtrack.breadcrumb.emp-42",
		"a.b":        "fieldtrack.breadcrumb.a_b",
		"x>*":        "fieldtrack.breadcrumb.x__",
		"with space": "fieldtrack.breadcrumb.with_space",
		"":           "fieldtrack.breadcrumb._",
	}
	for in, want := range cases {
		if got := Subject(SubjectBreadcrumb, in); got != want {
			t.Errorf("Subject(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Wildcard(SubjectVisit); got != "fieldtrack.visit.>" {
		t.Errorf("unexpected wildcard %q", got)
	}
}
