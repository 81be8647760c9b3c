package api

import (
	"net/http"
)

const operatorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Alchemy Machine - Operator</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1a1a2e;
            color: #eee;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #16213e;
            padding: 12px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #stream { padding: 4px 10px; border-radius: 4px; font-size: 12px; }
        #stream.connected { background: #1b4332; color: #95d5b2; }
        #stream.disconnected { background: #7f1d1d; color: #fca5a5; }
        .panel {
            background: #16213e;
            padding: 10px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            gap: 18px;
            align-items: center;
            flex-wrap: wrap;
            font-size: 13px;
        }
        #state { font-size: 18px; padding: 4px 12px; border-radius: 4px; background: #0f3460; }
        #state.state-powered { background: #1e3a8a; }
        #state.state-solved { background: #065f46; }
        #state.state-game_over { background: #7f1d1d; }
        .flag { color: #6b7280; }
        .flag.on { color: #95d5b2; }
        button {
            border: none;
            border-radius: 4px;
            padding: 6px 14px;
            color: #fff;
            font-family: monospace;
            font-size: 13px;
            cursor: pointer;
        }
        button.solve { background: #059669; }
        button.reset { background: #dc2626; }
        button:disabled { background: #374151; cursor: not-allowed; }
        #result { font-size: 12px; color: #9ca3af; }
        #events { flex: 1; overflow-y: auto; padding: 10px; }
        .event {
            padding: 6px 12px;
            margin-bottom: 4px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            font-size: 13px;
            display: flex;
            gap: 12px;
        }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.level-warning { border-left-color: #d97706; }
        .event.scope-puzzle { border-left-color: #7c3aed; }
        .event.scope-operator { border-left-color: #db2777; }
        .ts { color: #6b7280; font-size: 11px; min-width: 90px; }
        .name { color: #60a5fa; font-weight: bold; min-width: 180px; }
        .msg { color: #9ca3af; }
    </style>
</head>
<body>
    <header>
        <h1>Alchemy Machine</h1>
        <span id="stream" class="disconnected">offline</span>
    </header>
    <div class="panel">
        <span id="state">-</span>
        <span id="beam" class="flag">beam</span>
        <span id="door" class="flag">door closed</span>
        <span id="tags" class="flag">tags correct</span>
        <span id="lock" class="flag">door locked</span>
        <span id="io" class="flag">io controller</span>
        <span id="mqtt" class="flag">mqtt</span>
    </div>
    <div class="panel">
        <button class="solve" onclick="send('solve')">Solve</button>
        <button class="reset" onclick="send('reset')">Reset</button>
        <span id="result"></span>
    </div>
    <main id="events"></main>
    <script>
        function flag(id, on) {
            document.getElementById(id).className = on ? 'flag on' : 'flag';
        }

        function refresh() {
            fetch('/status').then(r => r.json()).then(s => {
                const st = document.getElementById('state');
                const p = s.puzzle || {};
                st.textContent = (p.state || 'unknown') + (p.solving ? ' (solving)' : '');
                st.className = 'state-' + (p.state || '');
                flag('beam', p.beam_broken);
                flag('door', p.door_closed);
                flag('tags', p.all_tags_correct);
                flag('lock', p.door_locked);
                flag('io', s.connectivity.io_controller);
                flag('mqtt', s.connectivity.mqtt);
            }).catch(() => {});
        }

        function send(cmd) {
            const result = document.getElementById('result');
            if (cmd === 'reset' && !confirm('Reset the Alchemy Machine?')) return;
            fetch('/operator/' + cmd, { method: 'POST' })
                .then(r => r.json())
                .then(d => { result.textContent = d.ok ? cmd + ' sent' : 'error: ' + d.error; })
                .catch(() => { result.textContent = 'network error'; });
        }

        function addEvent(e) {
            const list = document.getElementById('events');
            const div = document.createElement('div');
            const scope = (e.event || '').split('.')[0];
            div.className = 'event level-' + e.level + ' scope-' + scope;
            const ts = new Date(e.ts).toLocaleTimeString();
            const msg = e.msg || (e.fields ? JSON.stringify(e.fields) : '');
            div.innerHTML = '<span class="ts"></span><span class="name"></span><span class="msg"></span>';
            div.children[0].textContent = ts;
            div.children[1].textContent = e.event;
            div.children[2].textContent = msg;
            list.insertBefore(div, list.firstChild);
            while (list.children.length > 300) list.removeChild(list.lastChild);
            if (scope === 'puzzle' || scope === 'device') refresh();
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws/events');
            const badge = document.getElementById('stream');
            ws.onopen = () => { badge.textContent = 'live'; badge.className = 'connected'; };
            ws.onmessage = m => addEvent(JSON.parse(m.data));
            ws.onclose = () => {
                badge.textContent = 'offline';
                badge.className = 'disconnected';
                setTimeout(connect, 2000);
            };
        }

        refresh();
        setInterval(refresh, 2000);
        connect();
    </script>
</body>
</html>`

// uiHandler serves the operator page.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(operatorUIHTML))
}
