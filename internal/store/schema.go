package store

const schema = `
CREATE TABLE IF NOT EXISTS taxon_grid (
	taxon_id INTEGER NOT NULL,
	zoom INTEGER NOT NULL,
	year INTEGER NOT NULL,
	slot_id INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y_tile INTEGER NOT NULL,
	observations_count INTEGER NOT NULL DEFAULT 0,
	taxa_count INTEGER NOT NULL DEFAULT 0,
	top_lat REAL NOT NULL,
	left_lon REAL NOT NULL,
	bottom_lat REAL NOT NULL,
	right_lon REAL NOT NULL,
	fetched_at_utc TEXT NOT NULL,
	PRIMARY KEY (taxon_id, zoom, year, slot_id, x, y_tile)
);

CREATE INDEX IF NOT EXISTS idx_taxon_grid_cell
	ON taxon_grid (zoom, year, slot_id, x, y_tile);

CREATE INDEX IF NOT EXISTS idx_taxon_grid_layer
	ON taxon_grid (taxon_id, zoom, year, slot_id);

CREATE TABLE IF NOT EXISTS taxon_layer_state (
	taxon_id INTEGER NOT NULL,
	zoom INTEGER NOT NULL,
	year INTEGER NOT NULL,
	slot_id INTEGER NOT NULL,
	last_fetch_utc TEXT NOT NULL,
	payload_sha256 TEXT NOT NULL,
	grid_cell_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (taxon_id, zoom, year, slot_id)
);

CREATE TABLE IF NOT EXISTS grid_hotmap (
	zoom INTEGER NOT NULL,
	year INTEGER NOT NULL,
	slot_id INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y_tile INTEGER NOT NULL,
	coverage INTEGER NOT NULL DEFAULT 0,
	score REAL NOT NULL DEFAULT 0,
	top_lat REAL NOT NULL,
	left_lon REAL NOT NULL,
	bottom_lat REAL NOT NULL,
	right_lon REAL NOT NULL,
	updated_at_utc TEXT NOT NULL,
	PRIMARY KEY (zoom, year, slot_id, x, y_tile)
);

CREATE INDEX IF NOT EXISTS idx_grid_hotmap_rank
	ON grid_hotmap (zoom, year, slot_id, coverage DESC, score DESC);

CREATE TABLE IF NOT EXISTS hotmap_taxa_set (
	zoom INTEGER NOT NULL,
	year INTEGER NOT NULL,
	slot_id INTEGER NOT NULL,
	taxon_id INTEGER NOT NULL,
	PRIMARY KEY (zoom, year, slot_id, taxon_id)
);

CREATE INDEX IF NOT EXISTS idx_hotmap_taxa_set_key
	ON hotmap_taxa_set (zoom, year, slot_id);

CREATE TABLE IF NOT EXISTS taxon_dim (
	taxon_id INTEGER PRIMARY KEY,
	scientific_name TEXT NOT NULL DEFAULT '',
	swedish_name TEXT NOT NULL DEFAULT '',
	updated_at_utc TEXT NOT NULL
);
`
