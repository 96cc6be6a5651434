package journal

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	finished_at   TEXT,
	status        TEXT NOT NULL DEFAULT 'running',
	dataset_start INTEGER NOT NULL,
	dataset_end   INTEGER NOT NULL
);`

const createLinksTable = `
CREATE TABLE IF NOT EXISTS links (
	url           TEXT PRIMARY KEY,
	dataset       INTEGER NOT NULL,
	doc_id        TEXT NOT NULL,
	page          INTEGER NOT NULL,
	referer       TEXT,
	run_id        TEXT NOT NULL,
	discovered_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_dataset ON links(dataset);`

const createAttemptsTable = `
CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	url         TEXT NOT NULL,
	dataset     INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	kind        TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	message     TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_url ON attempts(url);`

const insertRun = `
INSERT OR REPLACE INTO runs (id, started_at, status, dataset_start, dataset_end)
VALUES (?, ?, 'running', ?, ?)`

const finishRun = `
UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`

const insertLink = `
INSERT OR IGNORE INTO links (url, dataset, doc_id, page, referer, run_id, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

const insertAttempt = `
INSERT INTO attempts (run_id, url, dataset, outcome, kind, attempts, bytes, message, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Latest outcome per link, grouped by dataset.
const selectDatasetStats = `
SELECT l.dataset,
       COUNT(*),
       COALESCE(SUM(CASE WHEN a.outcome IN ('downloaded', 'skipped') THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN a.outcome = 'failed' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(a.bytes), 0)
FROM links l
LEFT JOIN attempts a ON a.id = (SELECT MAX(id) FROM attempts WHERE url = l.url)
GROUP BY l.dataset
ORDER BY l.dataset`

const selectRecentRuns = `
SELECT id, started_at, COALESCE(finished_at, ''), status, dataset_start, dataset_end
FROM runs
ORDER BY started_at DESC
LIMIT ?`

const selectFailures = `
SELECT a.url, a.dataset, COALESCE(a.kind, ''), a.attempts, COALESCE(a.message, ''), a.recorded_at
FROM attempts a
WHERE a.outcome = 'failed'
  AND a.id = (SELECT MAX(id) FROM attempts WHERE url = a.url)
ORDER BY a.dataset, a.url
LIMIT ?`
