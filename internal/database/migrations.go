package database

const schema = `
CREATE TABLE IF NOT EXISTS user_criteria (
    user_id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    location TEXT,
    property_type TEXT CHECK (property_type IN ('rent', 'buy')),
    min_rooms INTEGER,
    max_rooms INTEGER,
    min_living_space REAL,
    max_living_space REAL,
    min_rent REAL,
    max_rent REAL,
    occupants INTEGER CHECK (occupants >= 0),
    duration TEXT,
    starting_when TEXT,
    additional_requirements TEXT,
    email_sender TEXT,
    email_subject_keywords TEXT,
    monitor_email TEXT,
    email_provider TEXT NOT NULL DEFAULT 'gmail',
    email_app_password TEXT,
    email_monitoring_enabled BOOLEAN NOT NULL DEFAULT false,
    last_email_check DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES user_criteria(user_id) ON DELETE CASCADE,
    email_message_id TEXT NOT NULL,
    subject TEXT,
    sender TEXT,
    listing_urls TEXT,
    reports TEXT,
    processed_at DATETIME NOT NULL,
    UNIQUE(user_id, email_message_id)
);

CREATE INDEX IF NOT EXISTS idx_criteria_monitoring ON user_criteria(email_monitoring_enabled);
CREATE INDEX IF NOT EXISTS idx_processed_user_time ON processed_emails(user_id, processed_at);
`
