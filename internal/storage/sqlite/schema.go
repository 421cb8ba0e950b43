package sqlite

const schema = `
-- Capabilities table (hierarchy root)
CREATE TABLE IF NOT EXISTS capabilities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    capability_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    component TEXT NOT NULL DEFAULT '',
    strategic_theme TEXT NOT NULL DEFAULT '',
    business_value TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Epics table
CREATE TABLE IF NOT EXISTS epics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    epic_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    component TEXT NOT NULL DEFAULT '',
    capability_id INTEGER,
    status TEXT NOT NULL DEFAULT 'planned',
    priority TEXT NOT NULL DEFAULT 'medium',
    estimated_impact_days REAL NOT NULL DEFAULT 0 CHECK(estimated_impact_days >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (capability_id) REFERENCES capabilities(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_epics_capability ON epics(capability_id);
CREATE INDEX IF NOT EXISTS idx_epics_status ON epics(status);

-- User stories table
CREATE TABLE IF NOT EXISTS user_stories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_story_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    epic_id INTEGER NOT NULL,
    component TEXT NOT NULL DEFAULT '',
    issue_number INTEGER UNIQUE,
    status TEXT NOT NULL DEFAULT 'planned',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (epic_id) REFERENCES epics(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_user_stories_epic ON user_stories(epic_id);
CREATE INDEX IF NOT EXISTS idx_user_stories_issue ON user_stories(issue_number);

-- Tests table. No uniqueness on (function_name, file_path): repeated import
-- passes are expected to accumulate duplicate rows, which deduplication
-- later collapses. user_story_issue is a soft reference by issue number,
-- deliberately unconstrained so test rows can arrive before their parent
-- story is imported.
CREATE TABLE IF NOT EXISTS tests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    function_name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    component TEXT NOT NULL DEFAULT '',
    epic_id INTEGER,
    user_story_issue INTEGER,
    defect_issue INTEGER,
    test_category TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT 'medium',
    priority_explicit INTEGER NOT NULL DEFAULT 0,
    last_execution_time DATETIME,
    last_execution_status TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (epic_id) REFERENCES epics(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_tests_identity ON tests(function_name, file_path);
CREATE INDEX IF NOT EXISTS idx_tests_epic ON tests(epic_id);
CREATE INDEX IF NOT EXISTS idx_tests_story_issue ON tests(user_story_issue);

-- Defects table
CREATE TABLE IF NOT EXISTS defects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    defect_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    component TEXT NOT NULL DEFAULT '',
    epic_id INTEGER,
    user_story_issue INTEGER,
    test_id INTEGER,
    severity TEXT NOT NULL DEFAULT 'medium',
    status TEXT NOT NULL DEFAULT 'open',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (epic_id) REFERENCES epics(id) ON DELETE SET NULL,
    FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_defects_epic ON defects(epic_id);
CREATE INDEX IF NOT EXISTS idx_defects_story_issue ON defects(user_story_issue);

-- Epic dependency edges (directed parent -> dependent). Planning data is
-- user-entered and not assumed acyclic; cycle detection runs on read.
CREATE TABLE IF NOT EXISTS epic_dependencies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_epic_id INTEGER NOT NULL,
    dependent_epic_id INTEGER NOT NULL CHECK(dependent_epic_id != parent_epic_id),
    dependency_type TEXT NOT NULL DEFAULT 'prerequisite',
    priority TEXT NOT NULL DEFAULT 'medium',
    estimated_impact_days REAL NOT NULL DEFAULT 0 CHECK(estimated_impact_days >= 0),
    is_active INTEGER NOT NULL DEFAULT 1,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolution_date DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (parent_epic_id, dependent_epic_id, dependency_type),
    FOREIGN KEY (parent_epic_id) REFERENCES epics(id) ON DELETE CASCADE,
    FOREIGN KEY (dependent_epic_id) REFERENCES epics(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_epic_deps_parent ON epic_dependencies(parent_epic_id);
CREATE INDEX IF NOT EXISTS idx_epic_deps_dependent ON epic_dependencies(dependent_epic_id);

-- Events table (audit trail). No foreign keys: rows outlive the entities
-- they describe, deletion events included.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_kind TEXT NOT NULL,
    entity_id INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Config table (operator settings)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table (internal state: schema version, database id)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Duplicate identity keys view: raw (function_name, file_path) groups with
-- more than one row, before any path normalization
CREATE VIEW IF NOT EXISTS duplicate_test_keys AS
SELECT function_name, file_path, COUNT(*) as row_count
FROM tests
GROUP BY function_name, file_path
HAVING COUNT(*) > 1;

-- Active planning edges view (the dependency analyzer's input)
CREATE VIEW IF NOT EXISTS active_epic_dependencies AS
SELECT d.*
FROM epic_dependencies d
WHERE d.is_active = 1
  AND d.is_resolved = 0;
`
