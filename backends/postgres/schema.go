package postgres

const schemaTable = `
CREATE TABLE IF NOT EXISTS ratelimit_kv (
	key TEXT PRIMARY KEY,
	d DOUBLE PRECISION NOT NULL DEFAULT 0,
	r DOUBLE PRECISION NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ
)`

const schemaTakeStandard = `
CREATE OR REPLACE FUNCTION rl_take_standard(
	p_key TEXT,
	p_size DOUBLE PRECISION,
	p_tokens_per_ms DOUBLE PRECISION,
	p_count DOUBLE PRECISION,
	p_ttl_seconds DOUBLE PRECISION,
	p_drip_interval_ms DOUBLE PRECISION
) RETURNS TABLE(remaining DOUBLE PRECISION, conformant BOOLEAN, now_ms BIGINT, reset_ms BIGINT)
LANGUAGE plpgsql AS $$
DECLARE
	v_now_ms BIGINT := FLOOR(EXTRACT(EPOCH FROM clock_timestamp()) * 1000);
	v_d DOUBLE PRECISION;
	v_r DOUBLE PRECISION;
	v_content DOUBLE PRECISION;
	v_conformant BOOLEAN;
	v_new_r DOUBLE PRECISION;
	v_expires_at TIMESTAMPTZ;
BEGIN
	SELECT d, r INTO v_d, v_r FROM ratelimit_kv
		WHERE key = p_key AND (expires_at IS NULL OR expires_at > clock_timestamp())
		FOR UPDATE;

	IF FOUND THEN
		IF p_tokens_per_ms > 0 THEN
			v_content := LEAST(v_r + GREATEST(v_now_ms - v_d, 0) * p_tokens_per_ms, p_size);
		ELSE
			v_content := v_r;
		END IF;
	ELSE
		v_content := p_size;
	END IF;

	v_conformant := v_content >= p_count;
	IF v_conformant THEN
		v_new_r := LEAST(v_content - p_count, p_size);
	ELSE
		v_new_r := v_content;
	END IF;

	IF p_ttl_seconds > 0 THEN
		v_expires_at := clock_timestamp() + (p_ttl_seconds || ' seconds')::interval;
	ELSE
		v_expires_at := NULL;
	END IF;

	INSERT INTO ratelimit_kv (key, d, r, expires_at)
	VALUES (p_key, v_now_ms, v_new_r, v_expires_at)
	ON CONFLICT (key) DO UPDATE SET d = EXCLUDED.d, r = EXCLUDED.r, expires_at = EXCLUDED.expires_at;

	remaining := v_new_r;
	conformant := v_conformant;
	now_ms := v_now_ms;
	IF p_drip_interval_ms > 0 THEN
		reset_ms := CEIL(v_now_ms + (p_size - v_new_r) * p_drip_interval_ms);
	ELSE
		reset_ms := 0;
	END IF;
	RETURN NEXT;
END;
$$`

const schemaTakeElevated = `
CREATE OR REPLACE FUNCTION rl_take_elevated(
	p_key TEXT,
	p_erl_key TEXT,
	p_size DOUBLE PRECISION,
	p_tokens_per_ms DOUBLE PRECISION,
	p_count DOUBLE PRECISION,
	p_ttl_seconds DOUBLE PRECISION,
	p_drip_interval_ms DOUBLE PRECISION,
	p_erl_size DOUBLE PRECISION,
	p_erl_tokens_per_ms DOUBLE PRECISION,
	p_erl_drip_interval_ms DOUBLE PRECISION,
	p_erl_activation_period_seconds DOUBLE PRECISION
) RETURNS TABLE(remaining DOUBLE PRECISION, conformant BOOLEAN, now_ms BIGINT, reset_ms BIGINT, erl_active BOOLEAN)
LANGUAGE plpgsql AS $$
DECLARE
	v_now_ms BIGINT := FLOOR(EXTRACT(EPOCH FROM clock_timestamp()) * 1000);
	v_d DOUBLE PRECISION;
	v_r DOUBLE PRECISION;
	v_found BOOLEAN;
	v_erl_on BOOLEAN;
	v_active_size DOUBLE PRECISION;
	v_active_rate DOUBLE PRECISION;
	v_content DOUBLE PRECISION;
	v_enough BOOLEAN;
	v_used DOUBLE PRECISION;
	v_candidate DOUBLE PRECISION;
	v_cap_size DOUBLE PRECISION;
	v_new_r DOUBLE PRECISION;
	v_expires_at TIMESTAMPTZ;
	v_drip_ms DOUBLE PRECISION;
	v_eff_size DOUBLE PRECISION;
BEGIN
	-- Lock the ERL activation row first; every caller for this pair
	-- acquires the two row locks in this same order.
	PERFORM 1 FROM ratelimit_kv
		WHERE key = p_erl_key AND (expires_at IS NULL OR expires_at > clock_timestamp())
		FOR UPDATE;
	v_erl_on := FOUND;

	SELECT d, r INTO v_d, v_r FROM ratelimit_kv
		WHERE key = p_key AND (expires_at IS NULL OR expires_at > clock_timestamp())
		FOR UPDATE;
	v_found := FOUND;

	IF v_erl_on THEN
		v_active_size := p_erl_size;
		v_active_rate := p_erl_tokens_per_ms;
	ELSE
		v_active_size := p_size;
		v_active_rate := p_tokens_per_ms;
	END IF;

	IF v_found THEN
		IF v_active_rate > 0 THEN
			v_content := LEAST(v_r + GREATEST(v_now_ms - v_d, 0) * v_active_rate, v_active_size);
		ELSE
			v_content := v_r;
		END IF;
	ELSE
		v_content := v_active_size;
	END IF;

	v_enough := v_content >= p_count;

	IF NOT v_enough AND NOT v_erl_on THEN
		v_used := p_size - v_content;
		v_candidate := p_erl_size - v_used;
		IF v_candidate >= p_count THEN
			v_erl_on := TRUE;
			v_enough := TRUE;
			v_content := v_candidate;

			INSERT INTO ratelimit_kv (key, d, r, expires_at)
			VALUES (p_erl_key, 0, 0, clock_timestamp() + (p_erl_activation_period_seconds || ' seconds')::interval)
			ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at;
		END IF;
	END IF;

	IF v_erl_on THEN
		v_cap_size := p_erl_size;
	ELSE
		v_cap_size := p_size;
	END IF;

	IF v_enough THEN
		v_new_r := LEAST(v_content - p_count, v_cap_size);
	ELSE
		v_new_r := v_content;
	END IF;

	IF p_ttl_seconds > 0 THEN
		v_expires_at := clock_timestamp() + (p_ttl_seconds || ' seconds')::interval;
	ELSE
		v_expires_at := NULL;
	END IF;

	INSERT INTO ratelimit_kv (key, d, r, expires_at)
	VALUES (p_key, v_now_ms, v_new_r, v_expires_at)
	ON CONFLICT (key) DO UPDATE SET d = EXCLUDED.d, r = EXCLUDED.r, expires_at = EXCLUDED.expires_at;

	IF v_erl_on THEN
		v_drip_ms := p_erl_drip_interval_ms;
		v_eff_size := p_erl_size;
	ELSE
		v_drip_ms := p_drip_interval_ms;
		v_eff_size := p_size;
	END IF;

	remaining := v_new_r;
	conformant := v_enough;
	now_ms := v_now_ms;
	erl_active := v_erl_on;
	IF v_drip_ms > 0 THEN
		reset_ms := CEIL(v_now_ms + (v_eff_size - v_new_r) * v_drip_ms);
	ELSE
		reset_ms := 0;
	END IF;
	RETURN NEXT;
END;
$$`

const schemaPut = `
CREATE OR REPLACE FUNCTION rl_put(
	p_key TEXT,
	p_count DOUBLE PRECISION,
	p_size DOUBLE PRECISION,
	p_ttl_seconds DOUBLE PRECISION,
	p_drip_interval_ms DOUBLE PRECISION
) RETURNS TABLE(remaining DOUBLE PRECISION, now_ms BIGINT, reset_ms BIGINT)
LANGUAGE plpgsql AS $$
DECLARE
	v_now_ms BIGINT := FLOOR(EXTRACT(EPOCH FROM clock_timestamp()) * 1000);
	v_r DOUBLE PRECISION;
	v_new_r DOUBLE PRECISION;
	v_expires_at TIMESTAMPTZ;
BEGIN
	SELECT r INTO v_r FROM ratelimit_kv
		WHERE key = p_key AND (expires_at IS NULL OR expires_at > clock_timestamp())
		FOR UPDATE;
	IF NOT FOUND THEN
		v_r := p_size;
	END IF;

	v_new_r := LEAST(v_r + p_count, p_size);

	IF p_ttl_seconds > 0 THEN
		v_expires_at := clock_timestamp() + (p_ttl_seconds || ' seconds')::interval;
	ELSE
		v_expires_at := NULL;
	END IF;

	INSERT INTO ratelimit_kv (key, d, r, expires_at)
	VALUES (p_key, v_now_ms, v_new_r, v_expires_at)
	ON CONFLICT (key) DO UPDATE SET d = EXCLUDED.d, r = EXCLUDED.r, expires_at = EXCLUDED.expires_at;

	remaining := v_new_r;
	now_ms := v_now_ms;
	IF p_drip_interval_ms > 0 THEN
		reset_ms := CEIL(v_now_ms + (p_size - v_new_r) * p_drip_interval_ms);
	ELSE
		reset_ms := 0;
	END IF;
	RETURN NEXT;
END;
$$`
