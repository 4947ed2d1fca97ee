package weberr

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

// WithCart tags the error log with the cart it happened on.
func WithCart(cartID string) Opt {
	return WithFields(map[string]interface{}{"cart_id": cartID})
}

// WithPayment tags the error log with the gateway reference of a payment.
func WithPayment(gateway, ref string) Opt {
	return WithFields(map[string]interface{}{
		"gateway":     gateway,
		"payment_ref": ref,
	})
}
