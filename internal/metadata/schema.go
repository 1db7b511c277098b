package metadata

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    prefix TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS plans (
    plan_id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL REFERENCES projects(name),
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    description TEXT NOT NULL DEFAULT '',
    UNIQUE (project, name)
);

CREATE TABLE IF NOT EXISTS cases (
    internal_id INTEGER PRIMARY KEY,
    external_id INTEGER NOT NULL DEFAULT 0,
    project TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    exec_order INTEGER NOT NULL DEFAULT 5000,
    exec_mode TEXT NOT NULL DEFAULT 'manual',
    importance INTEGER NOT NULL DEFAULT 2
);

CREATE TABLE IF NOT EXISTS plan_cases (
    plan_id INTEGER NOT NULL REFERENCES plans(plan_id),
    internal_id INTEGER NOT NULL REFERENCES cases(internal_id),
    exec_order INTEGER,
    PRIMARY KEY (plan_id, internal_id)
);

CREATE TABLE IF NOT EXISTS results (
    result_id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    plan TEXT NOT NULL,
    internal_id INTEGER NOT NULL,
    case_name TEXT NOT NULL,
    build TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`
