package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/taxi-dispatch/internal/apperr"
	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/storage"
)

const (
	maxCommentLen       = 1000
	maxPaymentMethodLen = 255
)

// Rate records one party's 1..5 score and comment on a completed ride. A
// passenger's score also moves the driver's and vehicle's running averages.
func (r *Registry) Rate(ctx context.Context, p models.Principal, rideID string, rating int, comment string) (ride models.Ride, err error) {
	const op = "rate"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RolePassenger, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	if rating < 1 || rating > 5 {
		return models.Ride{}, apperr.Validation(op, "rating must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLen {
		return models.Ride{}, apperr.Validation(op, "comment exceeds %d characters", maxCommentLen)
	}

	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if !isParty(p, ride) {
			return apperr.Unauthorized(op, "not a party to this ride")
		}
		if ride.Status != models.StatusCompleted {
			return apperr.Transition(op, string(ride.Status), op)
		}

		if p.Role == models.RoleDriver {
			if ride.DriverRating != nil {
				return apperr.TransitionMsg(op, string(ride.Status), op, "driver already rated this ride")
			}
			ride.DriverRating = &rating
			ride.DriverComment = comment
			return wrapStorage(op, tx.PutRide(ctx, ride))
		}

		if ride.PassengerRating != nil {
			return apperr.TransitionMsg(op, string(ride.Status), op, "passenger already rated this ride")
		}
		ride.PassengerRating = &rating
		ride.PassengerComment = comment

		driver, err := loadDriver(ctx, tx, op, ride.DriverID)
		if err != nil {
			return err
		}
		driver.Rating = runningAverage(driver.Rating, driver.RatedRides, rating)
		driver.RatedRides++
		if driver.VehicleID != "" {
			v, err := loadVehicle(ctx, tx, op, driver.VehicleID)
			if err != nil {
				return err
			}
			v.AverageRating = runningAverage(v.AverageRating, v.RatedRides, rating)
			v.RatedRides++
			if err := tx.PutVehicle(ctx, v); err != nil {
				return wrapStorage(op, err)
			}
		}
		if err := tx.PutDriver(ctx, driver); err != nil {
			return wrapStorage(op, err)
		}
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		return models.Ride{}, err
	}
	return ride, nil
}

// runningAverage folds a new score into an average over n scores. With no
// prior scores the default rating is discarded.
func runningAverage(avg float64, n, score int) float64 {
	if n <= 0 {
		return float64(score)
	}
	return (avg*float64(n) + float64(score)) / float64(n+1)
}

// Pay charges the actual fare of a completed ride. The gateway is called
// outside any transaction and keyed by ride id, so a retry after a failed
// commit reuses the first charge. The paid status is committed only if the
// ride is still pending.
func (r *Registry) Pay(ctx context.Context, p models.Principal, rideID, paymentMethod string) (ride models.Ride, err error) {
	const op = "pay"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RolePassenger); err != nil {
		return models.Ride{}, err
	}
	paymentMethod = strings.TrimSpace(paymentMethod)
	if len(paymentMethod) > maxPaymentMethodLen {
		return models.Ride{}, apperr.Validation(op, "payment_method exceeds %d characters", maxPaymentMethodLen)
	}
	if ride, err = loadRide(ctx, r.store, op, rideID); err != nil {
		return models.Ride{}, err
	}
	if err := payable(op, p, ride); err != nil {
		return models.Ride{}, err
	}

	ref, err := r.payments.Charge(ctx, payments.ChargeRequest{
		RideID:        ride.ID,
		Amount:        fare.Cents(*ride.ActualFare),
		PaymentMethod: paymentMethod,
	})
	if errors.Is(err, payments.ErrPaymentMethodRequired) {
		return models.Ride{}, apperr.Validation(op, "payment_method is required")
	}
	if err != nil {
		return models.Ride{}, apperr.External(op, err)
	}

	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if err := payable(op, p, ride); err != nil {
			return err
		}
		ride.PaymentStatus = models.PaymentPaid
		ride.PaymentRef = ref
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStorage {
			r.logger.Error("charge not recorded", "ride_id", rideID, "payment_ref", ref, "error", err)
		}
		return models.Ride{}, err
	}
	ev := event(models.EventPaid, ride, fmt.Sprintf("Payment of $%.2f received", *ride.ActualFare), r.now())
	ev.Fare = ride.ActualFare
	r.emit(ev)
	return ride, nil
}

func payable(op string, p models.Principal, ride models.Ride) error {
	if ride.PassengerID != p.ID {
		return apperr.Unauthorized(op, "ride belongs to another passenger")
	}
	if ride.Status != models.StatusCompleted || ride.ActualFare == nil {
		return apperr.Transition(op, string(ride.Status), op)
	}
	if ride.PaymentStatus != models.PaymentPending {
		return apperr.Transition(op, string(ride.PaymentStatus), op)
	}
	return nil
}

// Refund returns a paid fare. Only the driver who drove the ride may issue it.
// Like Pay, the gateway call sits between the check and the commit.
func (r *Registry) Refund(ctx context.Context, p models.Principal, rideID string) (ride models.Ride, err error) {
	const op = "refund"
	defer func() { r.record(op, err) }()

	if err := authorize(op, p, models.RoleDriver); err != nil {
		return models.Ride{}, err
	}
	if ride, err = loadRide(ctx, r.store, op, rideID); err != nil {
		return models.Ride{}, err
	}
	if err := refundable(op, p, ride); err != nil {
		return models.Ride{}, err
	}
	if err := r.payments.Refund(ctx, ride.ID, ride.PaymentRef); err != nil {
		return models.Ride{}, apperr.External(op, err)
	}

	err = r.transact(ctx, op, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if ride, err = loadRide(ctx, tx, op, rideID); err != nil {
			return err
		}
		if err := refundable(op, p, ride); err != nil {
			return err
		}
		ride.PaymentStatus = models.PaymentRefunded
		return wrapStorage(op, tx.PutRide(ctx, ride))
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStorage {
			r.logger.Error("refund not recorded", "ride_id", rideID, "payment_ref", ride.PaymentRef, "error", err)
		}
		return models.Ride{}, err
	}
	ev := event(models.EventRefunded, ride, fmt.Sprintf("Refund of $%.2f issued", *ride.ActualFare), r.now())
	ev.Fare = ride.ActualFare
	r.emit(ev)
	return ride, nil
}

func refundable(op string, p models.Principal, ride models.Ride) error {
	if ride.DriverID != p.ID {
		return apperr.Unauthorized(op, "ride is assigned to another driver")
	}
	if ride.PaymentStatus != models.PaymentPaid {
		return apperr.Transition(op, string(ride.PaymentStatus), op)
	}
	return nil
}
