package natsadapter

import "strings"

// Subject roots. Employee and visit IDs form the last token.
const (
	SubjectBreadcrumb = "fieldtrack.breadcrumb"
	SubjectDevice     = "fieldtrack.device"
	SubjectVisit      = "fieldtrack.visit"
	SubjectTracking   = "fieldtrack.tracking"
)

const (
	streamBreadcrumbs = "FIELD_BREADCRUMBS"
	streamVisits      = "FIELD_VISITS"
)

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

// Token makes an ID safe to use as a single subject token.
func Token(id string) string {
	if id == "" {
		return "_"
	}
	return tokenReplacer.Replace(id)
}

// Subject joins a root with one ID token.
func Subject(root, id string) string {
	return root + "." + Token(id)
}

// Wildcard matches every ID under root.
func Wildcard(root string) string {
	return root + ".>"
}
