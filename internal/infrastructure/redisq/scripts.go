package redisq

import "github.com/redis/go-redis/v9"

// KEYS[1]=job hash KEYS[2]=wait zset
// ARGV: id payload max_attempts backoff_type backoff_ms enqueued_ms run_ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'payload', ARGV[2], 'attempts', '0', 'max', ARGV[3],
  'btype', ARGV[4], 'bdelay', ARGV[5],
  'enq', ARGV[6], 'run', ARGV[7], 'state', 'waiting', 'err', '', 'token', '')
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
return 1
`)

// KEYS[1]=job hash KEYS[2]=wait zset KEYS[3]=active zset
// ARGV: id now_ms
// Moves a job whose lease expired back to wait. Returns 1 when moved.
var reclaimScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[3], ARGV[1])
if not s or tonumber(s) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'token', '')
redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'run'), ARGV[1])
return 1
`)

// KEYS[1]=job hash KEYS[2]=wait zset KEYS[3]=active zset
// ARGV: id now_ms lease_until_ms token
// Returns the job hash as {field, value, ...}, or false when another worker
// claimed the job first.
var claimScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not s or tonumber(s) > tonumber(ARGV[2]) then
  return false
end
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'active', 'token', ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS[1]=job hash KEYS[2]=active zset
// ARGV: id token
// Returns -1 missing, 0 lease lost, 1 acked.
var ackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local st = redis.call('HMGET', KEYS[1], 'state', 'token')
if st[1] ~= 'active' or st[2] ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1]=job hash KEYS[2]=active KEYS[3]=wait KEYS[4]=failed
// ARGV: id token now_ms err no_retry retry_run_ms
// Returns -1 missing, 0 lease lost, 1 retrying, 2 failed.
var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local st = redis.call('HMGET', KEYS[1], 'state', 'token', 'max')
if st[1] ~= 'active' or st[2] ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'err', ARGV[4], 'token', '')
if ARGV[5] == '1' or attempts >= tonumber(st[3]) then
  redis.call('HSET', KEYS[1], 'state', 'failed')
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
  return 2
end
redis.call('HSET', KEYS[1], 'state', 'waiting', 'run', ARGV[6])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
return 1
`)

// KEYS[1]=job hash KEYS[2]=wait zset
// ARGV: id
var cancelScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)
