package postgres

// SQL for fuel event, price and directory storage.

const eventColumns = `
	id, protocol, vehicle_ref, driver_name, fiscal_name,
	occurred_at, fuel_type, unit_price_label,
	liters::text, odometer::text, cost::text,
	station_ref, invoice_number, sector_ref, notes,
	created_at, updated_at`

const (
	// querySaveEvent inserts or replaces a fuel event keyed by id.
	// protocol and created_at are immutable once written.
	querySaveEvent = `
		INSERT INTO fuel_events (
			id, protocol, vehicle_ref, driver_name, fiscal_name,
			occurred_at, fuel_type, unit_price_label,
			liters, odometer, cost,
			station_ref, invoice_number, sector_ref, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			vehicle_ref      = EXCLUDED.vehicle_ref,
			driver_name      = EXCLUDED.driver_name,
			fiscal_name      = EXCLUDED.fiscal_name,
			occurred_at      = EXCLUDED.occurred_at,
			fuel_type        = EXCLUDED.fuel_type,
			unit_price_label = EXCLUDED.unit_price_label,
			liters           = EXCLUDED.liters,
			odometer         = EXCLUDED.odometer,
			cost             = EXCLUDED.cost,
			station_ref      = EXCLUDED.station_ref,
			invoice_number   = EXCLUDED.invoice_number,
			sector_ref       = EXCLUDED.sector_ref,
			notes            = EXCLUDED.notes,
			updated_at       = EXCLUDED.updated_at
	`

	queryGetEvent = `SELECT` + eventColumns + `
		FROM fuel_events
		WHERE id = $1
	`

	queryDeleteEvent = `DELETE FROM fuel_events WHERE id = $1`

	// queryLatestForVehicle picks the latest supply by occurrence, not by insertion.
	queryLatestForVehicle = `SELECT` + eventColumns + `
		FROM fuel_events
		WHERE vehicle_ref = $1
		ORDER BY occurred_at DESC, odometer DESC
		LIMIT 1
	`

	queryFindByInvoice = `SELECT` + eventColumns + `
		FROM fuel_events
		WHERE station_ref = $1 AND invoice_number = $2
		LIMIT 1
	`

	queryListByVehicle = `SELECT` + eventColumns + `
		FROM fuel_events
		WHERE vehicle_ref = $1
		ORDER BY occurred_at ASC, odometer ASC, id ASC
	`

	queryListInRange = `SELECT` + eventColumns + `
		FROM fuel_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, id ASC
	`

	queryNextProtocol = `SELECT nextval('fuel_event_protocol_seq')`

	queryListPrices = `
		SELECT station_ref, fuel_type, unit_price::text, updated_at
		FROM fuel_prices
		ORDER BY station_ref ASC, fuel_type ASC
	`

	queryUpsertPrice = `
		INSERT INTO fuel_prices (station_ref, fuel_type, unit_price, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (station_ref, fuel_type) DO UPDATE SET
			unit_price = EXCLUDED.unit_price,
			updated_at = EXCLUDED.updated_at
	`

	queryLookupVehicles = `
		SELECT ref, label, sector_ref
		FROM vehicles
		WHERE ref = ANY($1)
	`

	queryLookupSectors = `
		SELECT ref, label
		FROM sectors
		WHERE ref = ANY($1)
	`
)

const (
	// queryLockVehicle takes a session-level advisory lock keyed by the vehicle
	// ref. It is held on a pinned connection until queryUnlockVehicle runs.
	queryLockVehicle   = `SELECT pg_advisory_lock(hashtext($1))`
	queryUnlockVehicle = `SELECT pg_advisory_unlock(hashtext($1))`
)
