package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    agent TEXT NOT NULL,
    task TEXT,
    step INTEGER NOT NULL DEFAULT 0,
    task_index INTEGER NOT NULL DEFAULT -1,
    exit_code INTEGER NOT NULL,
    error TEXT,
    model TEXT,
    cancelled BOOLEAN DEFAULT FALSE,
    skipped BOOLEAN DEFAULT FALSE,
    tokens_input INTEGER,
    tokens_output INTEGER,
    cache_read INTEGER,
    cache_write INTEGER,
    cost TEXT,
    turns INTEGER,
    duration_ms INTEGER,
    skills TEXT,
    output_path TEXT,
    finished_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent);
CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
`
