package api

import (
	"net/http"

	"github.com/vdavid/mailchat/internal/auth"
)

// Backend is the storage behind every endpoint. *db.Store satisfies it.
type Backend interface {
	AccountStore
	GroupStore
	ChatStore
	ContactStore
	SettingsStore
}

// Engine sends messages and reports sync state. *mailchat.Engine satisfies it.
type Engine interface {
	Sender
	StatusSource
}

// NewRouter registers every /api/v1 route. When token is non-empty each route
// requires it as a bearer token. Callers may add more routes to the returned mux.
func NewRouter(store Backend, engine Engine, syncer Syncer, token string) *http.ServeMux {
	accountsHandler := NewAccountsHandler(store)
	syncHandler := NewSyncHandler(syncer, engine)
	sendHandler := NewSendHandler(engine)
	groupsHandler := NewGroupsHandler(store)
	chatsHandler := NewChatsHandler(store)
	contactsHandler := NewContactsHandler(store)
	settingsHandler := NewSettingsHandler(store)

	requireToken := auth.RequireToken(token)
	mux := http.NewServeMux()
	route := func(path string, handlers methods) {
		mux.Handle(path, requireToken(handlers))
	}

	route("/api/v1/accounts", methods{
		http.MethodGet:  accountsHandler.ListAccounts,
		http.MethodPost: accountsHandler.CreateAccount,
	})
	route("/api/v1/accounts/security", methods{http.MethodPatch: accountsHandler.UpdateSecurity})
	route("/api/v1/sync", methods{http.MethodPost: syncHandler.Sync})
	route("/api/v1/sync/status", methods{http.MethodGet: syncHandler.GetStatus})
	route("/api/v1/send", methods{http.MethodPost: sendHandler.Send})
	route("/api/v1/groups", methods{
		http.MethodGet:    groupsHandler.ListGroups,
		http.MethodPost:   groupsHandler.CreateGroup,
		http.MethodDelete: groupsHandler.DeleteGroup,
	})
	route("/api/v1/groups/send", methods{http.MethodPost: sendHandler.SendGroup})
	route("/api/v1/groups/messages", methods{http.MethodGet: groupsHandler.ListGroupMessages})
	route("/api/v1/chats", methods{http.MethodGet: chatsHandler.ListChats})
	route("/api/v1/messages", methods{http.MethodGet: chatsHandler.ListMessages})
	route("/api/v1/messages/read", methods{http.MethodPost: chatsHandler.MarkRead})
	route("/api/v1/contacts", methods{
		http.MethodGet:    contactsHandler.ListContacts,
		http.MethodPost:   contactsHandler.SaveContact,
		http.MethodDelete: contactsHandler.DeleteContact,
	})
	route("/api/v1/settings", methods{
		http.MethodGet:  settingsHandler.GetSettings,
		http.MethodPost: settingsHandler.PostSettings,
	})

	return mux
}

// methods dispatches a route by request method.
type methods map[string]http.HandlerFunc

func (m methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, ok := m[r.Method]
	if !ok {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}
