package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/healthz":                           "/healthz",
		"/v1/signals":                        "/v1/signals",
		"/v1/signals/01HZX3A5K9QWERTY":       "/v1/signals/:id",
		"/v1/signals/01HZX3A5K9QWERTY?x=1":   "/v1/signals/:id",
		"/v1/signals/01HZX3A5K9QWERTY/notes": "/v1/signals/:id/notes",
		"/v1/approvals/abc":                  "/v1/approvals/:id",
		"/v1/approvals":                      "/v1/approvals",
		"/v1/users/u-1/roles":                "/v1/users/:id/roles",
		"/v1/users/u-1/roles/extra":          "/v1/users/u-1/roles/extra",
		"/v1/reports/sla":                    "/v1/reports/sla",
		"/signals/01HZX3":                    "/signals/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
