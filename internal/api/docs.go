package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>Tabdesk API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/channels" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Channels</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`


const channelDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <title>Tabdesk event channels</title>
  <style>
    body { margin: 0 auto; max-width: 760px; padding: 24px; background: #0d1117; color: #c9d1d9;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; line-height: 1.6; }
    code, pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
    code { padding: 1px 5px; }
    pre { padding: 12px; overflow-x: auto; }
    a { color: #58a6ff; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; REST API</a></p>
  <h1>Event channels</h1>

  <h2>Server-sent events: <code>GET /events</code></h2>
  <p>Streams every feed as <code>event: &lt;feed&gt;</code> frames. Filter with
  <code>?feeds=tabs-sync</code>. The last payload of each feed is replayed on connect.</p>
  <pre>event: tabs-sync
data: {"tabs":[{"id":1,"title":"Notes","isActive":true}],"activeTabIndex":0}</pre>

  <h2>WebSocket: <code>GET /ws</code></h2>
  <p>Pushes the same feeds as <code>{"type":"tabs-sync","payload":{...}}</code> frames.
  Clients send intents as text frames and get one reply per intent.</p>
  <pre>&rarr; {"id":"1","intent":"new-tab","title":"Notes"}
&larr; {"type":"intent-result","id":"1","ok":true,"result":{"intent":"new-tab","applied":true,"tab":{...}}}

&rarr; {"id":"2","intent":"switch-tab"}
&larr; {"type":"intent-result","id":"2","ok":false,"code":"VALIDATION","error":"index is required"}</pre>

  <h2>Intents</h2>
  <p><code>new-tab</code>, <code>switch-tab</code> (index), <code>close-tab</code> (index, defaults to the
  active tab), <code>reorder-tabs</code> (from, to), <code>rename-tab</code> (index, title),
  <code>next-tab</code>, <code>prev-tab</code>, <code>first-tab</code>, <code>last-tab</code>,
  <code>save-tabs</code>, <code>close-app</code> and <code>shortcut</code> (accelerator).</p>
</body>
</html>`
