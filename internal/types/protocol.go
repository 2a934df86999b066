package types

// Websocket feed: GET /ws?session=<id>
//
// Client -> Server
// Ping: {}                 keeps the read deadline alive
// RequestResync: {}        asks for a fresh Resync
//
// Server -> Client
// Resync:                  always the first message on a connection
//   version: number
//   snapshot: { session: Session, actions: Action[] }
//
// ActionInserted:
//   version: number
//   action: Action
//
// ActionUpdated | ActionDeleted:   the ledger is append-only, so clients
//   version: number                 treat these as a signal to refetch
//   action: Action
//
// SessionUpdated:          join or ready flag changes
//   version: number
//   session: Session
//
// Error:
//   error: string
//
// Action:
//   id, session_id: string
//   action_type: "ban" | "pick"
//   team_number: 1 | 2
//   category: "civ" | "leader" | "souvenir"
//   choice_id: string
//   slot: number            global turn index the action fills
//   created_at: RFC 3339
//
// HTTP error body:
//   { "type": "Error", "code": string, "error": string }
