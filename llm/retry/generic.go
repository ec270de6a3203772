package retry

import "context"

// DoWithResultTyped 是 Retryer.DoWithResult 的泛型包装，省去返回值类型断言。
//
//	vec, err := retry.DoWithResultTyped[[]float64](r, ctx, func() ([]float64, error) {
//	    return embedder.EmbedQuery(ctx, text)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
