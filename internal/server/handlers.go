package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

// errorBody is the JSON shape of rejected HTTP requests.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WebSocketHandler authenticates the handshake and, only on success,
// upgrades the connection and registers it with the hub. Rejected
// handshakes get a 401 carrying a reason and never reach the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.authenticator.Authenticate(r.Context(), r)
	if err != nil {
		s.logger.Info("websocket handshake rejected",
			zap.String("addr", r.RemoteAddr),
			zap.String("reason", auth.Code(err)),
			zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: auth.Code(err), Message: auth.Reason(err)})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("user", identity.UserID), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, identity, r.RemoteAddr)
	if !s.hub.Register(client) {
		s.logger.Warn("hub stopped; closing new connection", zap.String("conn", client.ID()))
		_ = conn.Close()
	}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat realtime server is running!")
}

// TestPageHandler serves a small browser page that speaks the event protocol.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn("writing test page failed", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Realtime Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
    </style>
</head>
<body>
    <h1>GoChat Realtime Test</h1>
    <div>
        <input type="text" id="token" placeholder="Access token">
        <button onclick="connect()">Connect</button>
        <button onclick="disconnect()">Disconnect</button>
    </div>
    <div>
        <input type="text" id="room" placeholder="Room" value="general">
        <button onclick="emit('join_room', room())">Join</button>
        <button onclick="emit('leave_room', room())">Leave</button>
    </div>
    <div>
        <input type="text" id="message" placeholder="Type a message..." oninput="typing()">
        <button onclick="send()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        let typingTimer = null;
        const log = document.getElementById('log');

        function room() { return document.getElementById('room').value; }

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function connect() {
            const token = encodeURIComponent(document.getElementById('token').value);
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws?token=' + token);
            ws.onopen = () => addLine('connected');
            ws.onclose = () => { addLine('disconnected'); ws = null; };
            ws.onmessage = (e) => addLine(e.data);
        }

        function disconnect() { if (ws) { ws.close(); } }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function send() {
            const input = document.getElementById('message');
            if (input.value.trim() === '') { return; }
            emit('send_message', { room: room(), message: input.value });
            emit('stop_typing', { room: room() });
            input.value = '';
        }

        function typing() {
            if (!typingTimer) { emit('typing', { room: room() }); }
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => { emit('stop_typing', { room: room() }); typingTimer = null; }, 2000);
        }
    </script>
</body>
</html>`
