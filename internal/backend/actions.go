package backend

import "sort"

// Action types produced by the fleet app while offline.
const (
	TypeSaveInspection       = "save-inspection"
	TypeUploadPhoto          = "upload-photo"
	TypeSavePerception       = "save-perception"
	TypeSaveReintegration    = "save-reintegration"
	TypeMarkNotificationRead = "mark-notification-read"
	TypeAcknowledgeAlert     = "acknowledge-alert"
)

// routes maps action types to HTTP paths relative to the base URL.
var routes = map[string]string{
	TypeSaveInspection:       "inspections",
	TypeUploadPhoto:          "photos",
	TypeSavePerception:       "perceptions",
	TypeSaveReintegration:    "reintegrations",
	TypeMarkNotificationRead: "notifications/read",
	TypeAcknowledgeAlert:     "alerts/acknowledge",
}

// KnownTypes lists the action types the backend accepts, sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(routes))
	for t := range routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsKnownType reports whether actionType has a backend route.
func IsKnownType(actionType string) bool {
	_, ok := routes[actionType]
	return ok
}
