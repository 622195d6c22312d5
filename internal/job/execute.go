package job

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// execute runs one admitted upload, records its result and frees its slot.
func (d *Dispatcher) execute(id uint64, req Request) {
	defer d.wg.Done()

	log := d.log.WithFields(logrus.Fields{"upload_id": id, "path": req.Path, "user": req.User})

	res := d.invoke(req)

	st, ok := d.store.Finish(id, res)

	// The store lock is released by now; only then hand the slot back and
	// wake the scheduler.
	d.sem.Release(1)
	d.TryAdmitNext()

	if !ok {
		log.WithField("outcome", res.Outcome).Warn("upload finished after its status was removed, result discarded")
		return
	}
	log.WithFields(logrus.Fields{"state": st.State, "message": st.Message}).Info("upload finished")
	d.emit(Event{Type: EventFinished, ID: id, Status: &st})
}

// invoke calls the upload function and turns every kind of failure into a
// failed Result.
func (d *Dispatcher) invoke(req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed("panic during upload: %v", r)
		}
	}()

	out, err := d.upload(d.ctx, req)
	if err != nil {
		return Failed("upload error: %v", err)
	}

	switch out.Outcome {
	case StateCompleted, StateFailed:
		return out
	default:
		return Result{
			Outcome: StateFailed,
			Message: fmt.Sprintf("upload reported unknown outcome %q: %s", out.Outcome, out.Message),
		}
	}
}
