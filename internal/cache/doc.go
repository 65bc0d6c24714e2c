// Package cache provides a small generic cache with a soft entry limit.
//
// The engine uses it to keep compiled shader programs keyed by their source,
// so that creating the same shader twice compiles it once:
//
//	programs := cache.New[string, []byte](64)
//	spirv, err := programs.GetOrCreate(src, func() ([]byte, error) {
//		return naga.Compile(src)
//	})
//
// Failed creations are not cached.
package cache
