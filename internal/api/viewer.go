package api

// viewerHTML is the built-in panel wall. It lists every configured panel
// with its live MJPEG preview and per-second rates from the status feed.
const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FramePanel</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            margin: 0;
            padding: 20px;
            background: #1b1b1f;
            color: #e5e5e5;
        }
        h1 {
            font-size: 20px;
            font-weight: 600;
            margin: 0 0 16px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fill, minmax(340px, 1fr));
            gap: 16px;
        }
        .panel {
            background: #26262b;
            border-radius: 8px;
            overflow: hidden;
            box-shadow: 0 2px 4px rgba(0,0,0,0.4);
        }
        .panel img {
            display: block;
            width: 100%;
            background: #000;
            aspect-ratio: 4 / 3;
            object-fit: contain;
        }
        .panel .meta {
            padding: 8px 12px;
            font-size: 13px;
            display: flex;
            justify-content: space-between;
            align-items: baseline;
        }
        .panel .name {
            font-weight: 600;
        }
        .state {
            font-size: 12px;
        }
        .state.connected { color: #4caf50; }
        .state.connecting { color: #ffb300; }
        .state.disconnected { color: #9e9e9e; }
        .state.error { color: #ef5350; }
        .rates {
            color: #9e9e9e;
            font-size: 12px;
            padding: 0 12px 10px;
        }
        .empty {
            color: #9e9e9e;
            padding: 40px;
            text-align: center;
        }
    </style>
</head>
<body>
    <h1>FramePanel</h1>
    <div class="grid" id="grid"></div>
    <div class="empty" id="empty" hidden>No panels configured. Add one via POST /api/panels.</div>
    <script>
        const grid = document.getElementById('grid');
        const empty = document.getElementById('empty');
        const cards = new Map();

        function card(p) {
            const el = document.createElement('div');
            el.className = 'panel';
            el.innerHTML =
                '<img src="/stream/' + p.id + '" alt="">' +
                '<div class="meta"><span class="name"></span><span class="state"></span></div>' +
                '<div class="rates"></div>';
            grid.appendChild(el);
            return el;
        }

        function update(statuses) {
            empty.hidden = statuses.length > 0;
            const seen = new Set();
            for (const p of statuses) {
                seen.add(p.id);
                let el = cards.get(p.id);
                if (!el) {
                    el = card(p);
                    cards.set(p.id, el);
                }
                el.querySelector('.name').textContent = p.name || p.id;
                const state = el.querySelector('.state');
                state.textContent = p.last_error ? p.state + ': ' + p.last_error : p.state;
                state.className = 'state ' + p.state;
                const r = p.rates || {};
                if (p.options && p.options.show_status) {
                    el.querySelector('.rates').textContent =
                        (r.received_per_second || 0).toFixed(1) + ' rx/s | ' +
                        (r.displayed_per_second || 0).toFixed(1) + ' fps | ' +
                        ((r.bytes_per_second || 0) / 1024).toFixed(0) + ' KiB/s | ' +
                        (p.total_frames || 0) + ' frames';
                } else {
                    el.querySelector('.rates').textContent = '';
                }
            }
            for (const [id, el] of cards) {
                if (!seen.has(id)) {
                    el.remove();
                    cards.delete(id);
                }
            }
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/api/panels/stream');
            ws.onmessage = (ev) => update(JSON.parse(ev.data));
            ws.onclose = () => setTimeout(connect, 2000);
        }

        fetch('/api/panels').then(r => r.json()).then(update);
        connect();
    </script>
</body>
</html>
`
