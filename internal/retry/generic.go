package retry

import "context"

// DoWithResult 带返回值的类型安全重试封装。
//
// Usage:
//
//	res, err := retry.DoWithResult(r, ctx, func(ctx context.Context) (*Result, error) {
//	    return client.Call(ctx)
//	})
func DoWithResult[T any](r Retryer, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
