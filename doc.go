// Package authcore is the authentication core of the platform: account
// registration, password login with lockout, rotating refresh tokens with
// a revocation registry, and single-use password reset tokens.
//
// # Architecture
//
// An [Engine] is assembled with a [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithAccountStore(account.NewPostgresStore(pool)).
//		WithRedis(redisClient).
//		WithNotifier(notify.NewKafkaSender(writer, kafkaCfg, logger)).
//		WithLogger(logger).
//		Build()
//
// The engine composes these collaborators:
//
//   - account.Store holds identities, password hashes and lockout state.
//     Every state change is a compare-and-swap on the record version.
//   - jwt.Manager signs and verifies access and refresh tokens.
//   - registry.Redis tracks refresh token ids; rotation is an atomic
//     active to revoked transition.
//   - Redis also holds password reset records and per-IP throttles.
//   - notify.Outbox delivers reset tokens asynchronously.
//
// # Errors
//
// Operations return only the sentinels in errors.go, possibly wrapped in
// [*LockedOutError], [*RateLimitedError] or [*RequestError]. [ResultOf]
// turns any outcome into a transport-neutral [Result].
package authcore
