package monitor

// indexHTML is the single-page monitor UI.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Person Counter</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 0; background: #111; color: #eee; }
  header { padding: 12px 20px; background: #1b1b1b; border-bottom: 1px solid #333; }
  header h1 { margin: 0; font-size: 18px; }
  main { display: flex; flex-wrap: wrap; gap: 20px; padding: 20px; }
  .panel { background: #1b1b1b; border: 1px solid #333; border-radius: 8px; padding: 16px; }
  #video { width: 640px; max-width: 100%; background: #000; border-radius: 4px; }
  .stats { display: grid; grid-template-columns: auto auto; gap: 6px 16px; font-size: 14px; }
  .stats dt { color: #999; }
  .stats dd { margin: 0; font-variant-numeric: tabular-nums; }
  .controls button { margin-right: 8px; padding: 8px 16px; border: 0; border-radius: 4px; cursor: pointer; }
  #btn-start { background: #2e7d32; color: #fff; }
  #btn-stop { background: #c62828; color: #fff; }
  #btn-reset { background: #555; color: #fff; }
  .slider { margin-top: 12px; font-size: 14px; }
  .slider input { width: 200px; vertical-align: middle; }
  #events { list-style: none; margin: 0; padding: 0; font-size: 13px; max-height: 300px; overflow-y: auto; }
  #events li { padding: 3px 0; border-bottom: 1px solid #2a2a2a; }
  #events time { color: #888; margin-right: 8px; }
  .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; font-size: 12px; }
  .badge.on { background: #2e7d32; }
  .badge.off { background: #555; }
</style>
</head>
<body>
<header><h1>Person Counter <span id="state" class="badge off">stopped</span></h1></header>
<main>
  <div class="panel">
    <img id="video" src="/stream" alt="camera stream">
    <div class="controls" style="margin-top:12px">
      <button id="btn-start">Start</button>
      <button id="btn-stop">Stop</button>
      <button id="btn-reset">Reset</button>
    </div>
    <div class="slider">
      Confidence <input id="confidence" type="range" min="0.1" max="0.9" step="0.05">
      <span id="confidence-value"></span>
    </div>
    <div class="slider">
      Frame skip <input id="frameskip" type="range" min="1" max="10" step="1">
      <span id="frameskip-value"></span>
    </div>
  </div>
  <div class="panel">
    <h2 style="margin-top:0;font-size:15px">Occupancy</h2>
    <dl class="stats">
      <dt>Current</dt><dd id="current">0</dd>
      <dt>Total counted</dt><dd id="total">0</dd>
      <dt>Max simultaneous</dt><dd id="max">0</dd>
      <dt>Mean occupancy</dt><dd id="mean">0.00</dd>
      <dt>Frames processed</dt><dd id="frames">0</dd>
      <dt>FPS</dt><dd id="fps">0.0</dd>
    </dl>
    <h2 style="font-size:15px">Events</h2>
    <ul id="events"></ul>
  </div>
</main>
<script>
function post(url, body) {
  return fetch(url, {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: body ? JSON.stringify(body) : null,
  });
}

document.getElementById('btn-start').onclick = () => post('/api/control/start');
document.getElementById('btn-stop').onclick = () => post('/api/control/stop');
document.getElementById('btn-reset').onclick = () => post('/api/control/reset');

const conf = document.getElementById('confidence');
const skip = document.getElementById('frameskip');
conf.onchange = () => post('/api/config', {confidence_threshold: parseFloat(conf.value)}).then(applyConfig);
skip.onchange = () => post('/api/config', {frame_skip: parseInt(skip.value, 10)}).then(applyConfig);

function applyConfig(resp) {
  resp.json().then(cfg => {
    conf.value = cfg.confidence_threshold;
    skip.value = cfg.frame_skip;
    document.getElementById('confidence-value').textContent = cfg.confidence_threshold.toFixed(2);
    document.getElementById('frameskip-value').textContent = cfg.frame_skip;
  });
}
fetch('/api/config').then(applyConfig);

const statusSource = new EventSource('/api/status/stream');
statusSource.onmessage = (e) => {
  const st = JSON.parse(e.data);
  const state = document.getElementById('state');
  state.textContent = st.pipeline.running ? 'running' : 'stopped';
  state.className = 'badge ' + (st.pipeline.running ? 'on' : 'off');
  document.getElementById('current').textContent = st.occupancy.current_persons;
  document.getElementById('total').textContent = st.occupancy.total_counted;
  document.getElementById('max').textContent = st.occupancy.max_simultaneous;
  document.getElementById('mean').textContent = st.session.mean_occupancy.toFixed(2);
  document.getElementById('frames').textContent = st.occupancy.frames_processed;
  document.getElementById('fps').textContent = st.pipeline.current_fps.toFixed(1);
};

const eventSource = new EventSource('/api/events/stream');
eventSource.onmessage = (e) => {
  const ev = JSON.parse(e.data);
  const li = document.createElement('li');
  const ts = document.createElement('time');
  ts.textContent = new Date(ev.time).toLocaleTimeString();
  li.appendChild(ts);
  li.appendChild(document.createTextNode(ev.message));
  const list = document.getElementById('events');
  list.insertBefore(li, list.firstChild);
  while (list.children.length > 100) list.removeChild(list.lastChild);
};
</script>
</body>
</html>
`
