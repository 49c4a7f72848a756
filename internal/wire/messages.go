// Package wire defines the lanlobby wire protocol: one JSON message per line
// on stream transports and one JSON message per datagram on UDP.
package wire

// Directory commands.
const (
	CmdRegister     = "REGISTER"
	CmdLogin        = "LOGIN"
	CmdLogout       = "LOGOUT"
	CmdHeartbeat    = "HEARTBEAT"
	CmdOnlineStatus = "ONLINE_STATUS"
)

// Response status values.
const (
	StatusOK    = "OK"
	StatusErr   = "ERR"
	StatusTaken = "TAKEN"
)

// Response detail codes.
const (
	DetailRegistered     = "REGISTERED"
	DetailLoggedIn       = "LOGGED_IN"
	DetailLoggedOut      = "LOGGED_OUT"
	DetailStatusUpdated  = "STATUS_UPDATED"
	DetailAlreadyExists  = "ALREADY_EXISTS"
	DetailNoSuchAccount  = "NO_SUCH_ACCOUNT"
	DetailBadCredential  = "BAD_CREDENTIAL"
	DetailAlreadyActive  = "ALREADY_ACTIVE"
	DetailBadRequest     = "BAD_REQUEST"
	DetailUnknownCommand = "UNKNOWN_COMMAND"
)

// Request is a single directory protocol request.
type Request struct {
	Cmd        string        `json:"cmd"`
	Username   string        `json:"username,omitempty"`
	Credential string        `json:"credential,omitempty"`
	Extra      *RequestExtra `json:"extra,omitempty"`
}

// RequestExtra carries optional per-command payload, currently the
// experience delta reported with HEARTBEAT.
type RequestExtra struct {
	XP int64 `json:"xp"`
}

// Response is a single directory protocol response. LoginCount and
// Experience are populated for LOGIN and HEARTBEAT, Online for
// ONLINE_STATUS.
type Response struct {
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	LoginCount int64  `json:"login_count,omitempty"`
	Experience int64  `json:"experience,omitempty"`
	Online     *bool  `json:"online,omitempty"`
}

// OK reports whether the response carries StatusOK.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Rendezvous datagram types.
const (
	TypeProbe          = "PROBE"
	TypeProbeAck       = "PROBE_ACK"
	TypeInvite         = "INVITE"
	TypeInviteResponse = "INVITE_RESPONSE"
	TypeConnectInfo    = "CONNECT_INFO"
)

// Probe ack availability values.
const (
	ProbeAvailable = "AVAILABLE"
	ProbeBusy      = "BUSY"
)

// Invite response values.
const (
	InviteAccept  = "ACCEPT"
	InviteDecline = "DECLINE"
)

// Datagram is the envelope for every rendezvous UDP message. Unused
// fields are omitted on the wire; receivers ignore unknown types so the
// protocol stays forward compatible without versioning.
type Datagram struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce,omitempty"`
	From      string `json:"from,omitempty"`
	Status    string `json:"status,omitempty"`
	Response  string `json:"response,omitempty"`
	IP        string `json:"ip,omitempty"`
	Port      int    `json:"port,omitempty"`
	Transport string `json:"transport,omitempty"`
}

// Session (game layer) message types.
const (
	TypeGameStart = "GAME_START"
	TypeMoveReq   = "MOVE_REQ"
	TypeMove      = "MOVE"
	TypeGameEnd   = "GAME_END"
)

// Game end results, expressed from the receiver's perspective.
const (
	ResultWin  = "WIN"
	ResultLose = "LOSE"
	ResultDraw = "DRAW"
)

// GameMessage is the envelope for messages exchanged over an
// established session transport.
type GameMessage struct {
	Type      string   `json:"type"`
	You       string   `json:"you,omitempty"`
	Opponent  string   `json:"opponent,omitempty"`
	Board     []string `json:"board,omitempty"`
	FirstTurn string   `json:"first_turn,omitempty"`
	Pos       int      `json:"pos"`
	Result    string   `json:"result,omitempty"`
}
