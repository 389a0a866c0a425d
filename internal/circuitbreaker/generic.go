package circuitbreaker

import "context"

// CallWithResult 带返回值的类型安全封装。
//
// Usage:
//
//	res, err := circuitbreaker.CallWithResult(cb, ctx, func(ctx context.Context) (*Result, error) {
//	    return client.Call(ctx)
//	})
func CallWithResult[T any](cb CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Call(ctx, func(ctx context.Context) error {
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
