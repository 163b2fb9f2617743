// Package routes classifies navigation targets as public or private.
// Public routes are browsable without a signed-in principal and enter
// guest mode silently during bootstrap.
package routes

import "strings"

// Type names the screen a path resolves to.
type Type string

const (
	TypeHome         Type = "home"
	TypeRequest      Type = "request"
	TypeMarketplace  Type = "marketplace"
	TypeCreate       Type = "create"
	TypeProfile      Type = "profile"
	TypeMessages     Type = "messages"
	TypeConversation Type = "conversation"
	TypeSettings     Type = "settings"
	TypeUnknown      Type = "unknown"
)

// Route is a classified navigation target.
type Route struct {
	Type Type
	ID   string // request id, user id or conversation id when present
}

// Parse classifies a path.
func Parse(path string) Route {
	path = strings.TrimSuffix(strings.TrimSpace(path), "/")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return Route{Type: TypeHome}
	}

	segments := strings.Split(path, "/")
	head := segments[0]
	id := ""
	if len(segments) > 1 {
		id = segments[1]
	}

	switch head {
	case "request":
		return Route{Type: TypeRequest, ID: id}
	case "marketplace":
		return Route{Type: TypeMarketplace, ID: id}
	case "create":
		return Route{Type: TypeCreate}
	case "profile":
		return Route{Type: TypeProfile, ID: id}
	case "messages":
		if id != "" {
			return Route{Type: TypeConversation, ID: id}
		}
		return Route{Type: TypeMessages}
	case "settings":
		return Route{Type: TypeSettings}
	default:
		return Route{Type: TypeUnknown}
	}
}

// IsPublic reports whether the route is browsable without login.
func (r Route) IsPublic() bool {
	switch r.Type {
	case TypeHome, TypeRequest, TypeMarketplace, TypeCreate:
		return true
	default:
		return false
	}
}
