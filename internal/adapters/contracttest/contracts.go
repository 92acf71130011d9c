package contracttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yellowbus/route-tracker/internal/domain"
	channelport "github.com/yellowbus/route-tracker/internal/ports/out/channel"
	credentialsport "github.com/yellowbus/route-tracker/internal/ports/out/credentials"
	docstoreport "github.com/yellowbus/route-tracker/internal/ports/out/docstore"
	kvcacheport "github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

type CleanupFunc = func()

// CredentialService is a credential adapter that can also create accounts.
type CredentialService interface {
	credentialsport.Service
	credentialsport.Registrar
}

type DocStoreFactory func(t *testing.T) (docstoreport.Store, CleanupFunc)
type CredentialsFactory func(t *testing.T) (CredentialService, CleanupFunc)
type ChannelRegistryFactory func(t *testing.T) (channelport.Registry, CleanupFunc)
type KVCacheFactory func(t *testing.T) (kvcacheport.Cache, CleanupFunc)

// deliveryTimeout bounds how long suites wait for asynchronous adapters.
const deliveryTimeout = 5 * time.Second

// quietPeriod is how long suites wait to conclude nothing more will be delivered.
const quietPeriod = 250 * time.Millisecond

func RunDocStore(t *testing.T, newStore DocStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	// Shared backends keep data between runs; scope everything to a fresh id.
	run := uuid.NewString()
	drivers := "drivers"
	riders := "riders"
	id := "d-" + run

	if _, err := store.Get(ctx, drivers, id); !errors.Is(err, docstoreport.ErrNotFound) {
		t.Fatalf("Get(missing) err=%v, want ErrNotFound", err)
	}

	if err := store.Put(ctx, drivers, id, docstoreport.Record{"firstName": "Ada", "route": "R-" + run, "busNumber": "12"}, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, drivers, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["firstName"] != "Ada" || got["route"] != "R-"+run || got["busNumber"] != "12" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Merge keeps untouched fields.
	if err := store.Put(ctx, drivers, id, docstoreport.Record{"startTime": "2024-01-01T00:00:00Z"}, true); err != nil {
		t.Fatalf("Put merge: %v", err)
	}
	got, err = store.Get(ctx, drivers, id)
	if err != nil {
		t.Fatalf("Get after merge: %v", err)
	}
	if got["firstName"] != "Ada" || got["startTime"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("merge lost fields: %+v", got)
	}

	// Replace drops fields not in the new record.
	if err := store.Put(ctx, drivers, id, docstoreport.Record{"firstName": "Grace"}, false); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got, err = store.Get(ctx, drivers, id)
	if err != nil {
		t.Fatalf("Get after replace: %v", err)
	}
	if got["firstName"] != "Grace" {
		t.Fatalf("replace did not apply: %+v", got)
	}
	if _, ok := got["startTime"]; ok {
		t.Fatalf("replace kept stale field: %+v", got)
	}

	// Merge into an absent document creates it.
	created := "d2-" + run
	if err := store.Put(ctx, drivers, created, docstoreport.Record{"stopTime": "x"}, true); err != nil {
		t.Fatalf("Put merge absent: %v", err)
	}
	if got, err := store.Get(ctx, drivers, created); err != nil || got["stopTime"] != "x" {
		t.Fatalf("Get merged-absent got=%+v err=%v", got, err)
	}

	// Collections are isolated.
	if _, err := store.Get(ctx, riders, id); !errors.Is(err, docstoreport.ErrNotFound) {
		t.Fatalf("Get(other collection) err=%v, want ErrNotFound", err)
	}

	route := "R-" + run
	for _, rid := range []string{"b-" + run, "a-" + run} {
		if err := store.Put(ctx, riders, rid, docstoreport.Record{"firstName": rid, "route": route}, false); err != nil {
			t.Fatalf("Put rider: %v", err)
		}
	}
	if err := store.Put(ctx, riders, "c-"+run, docstoreport.Record{"firstName": "other", "route": "elsewhere-" + run}, false); err != nil {
		t.Fatalf("Put rider: %v", err)
	}

	docs, err := store.Query(ctx, riders, "route", route)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a-"+run || docs[1].ID != "b-"+run {
		t.Fatalf("Query docs=%+v, want a then b", docs)
	}
	if docs[0].Data["firstName"] != "a-"+run {
		t.Fatalf("Query data=%+v", docs[0].Data)
	}

	empty, err := store.Query(ctx, riders, "route", "nobody-"+run)
	if err != nil {
		t.Fatalf("Query(no match): %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("Query(no match)=%#v, want empty non-nil slice", empty)
	}

	if err := store.Put(ctx, drivers, "", docstoreport.Record{"x": 1}, false); err == nil {
		t.Fatalf("Put(empty id) expected error")
	}
}

func RunCredentials(t *testing.T, newSvc CredentialsFactory) {
	t.Helper()
	ctx := context.Background()

	svc, cleanup := newSvc(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	run := uuid.NewString()
	id := domain.IdentityID(run)
	email := fmt.Sprintf("Driver-%s@Example.com", run)

	if err := svc.Register(ctx, id, email, "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Register(ctx, domain.IdentityID(uuid.NewString()), email, "other"); !errors.Is(err, credentialsport.ErrAlreadyExists) {
		t.Fatalf("Register(duplicate email) err=%v, want ErrAlreadyExists", err)
	}

	p, err := svc.Verify(ctx, "  "+email+" ", "hunter22")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.ID != id || p.Email != domain.NormalizeEmail(email) {
		t.Fatalf("Verify principal=%+v", p)
	}

	if _, err := svc.Verify(ctx, email, "wrong"); !errors.Is(err, credentialsport.ErrInvalidCredentials) {
		t.Fatalf("Verify(wrong password) err=%v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Verify(ctx, "nobody-"+run+"@example.com", "hunter22"); !errors.Is(err, credentialsport.ErrInvalidCredentials) {
		t.Fatalf("Verify(unknown email) err=%v, want ErrInvalidCredentials", err)
	}

	if _, ok, err := svc.InvalidatedAt(ctx, id); err != nil || ok {
		t.Fatalf("InvalidatedAt before revoke ok=%v err=%v", ok, err)
	}
	if err := svc.Invalidate(ctx, id); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	at, ok, err := svc.InvalidatedAt(ctx, id)
	if err != nil || !ok || at.IsZero() {
		t.Fatalf("InvalidatedAt after revoke at=%v ok=%v err=%v", at, ok, err)
	}
	// Revocation does not disable the account.
	if _, err := svc.Verify(ctx, email, "hunter22"); err != nil {
		t.Fatalf("Verify after Invalidate: %v", err)
	}

	if err := svc.Invalidate(ctx, domain.IdentityID(uuid.NewString())); !errors.Is(err, credentialsport.ErrNotFound) {
		t.Fatalf("Invalidate(unknown) err=%v, want ErrNotFound", err)
	}
}

func RunChannelRegistry(t *testing.T, newRegistry ChannelRegistryFactory) {
	t.Helper()
	ctx := context.Background()

	reg, cleanup := newRegistry(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	route := domain.RouteID("R-" + uuid.NewString())
	other := domain.RouteID("R-" + uuid.NewString())

	if _, err := reg.Subscribe(ctx, route, domain.ChannelKey("speed"), func(json.RawMessage) {}); !errors.Is(err, channelport.ErrInvalidKey) {
		t.Fatalf("Subscribe(invalid key) err=%v, want ErrInvalidKey", err)
	}
	if err := reg.Publish(ctx, route, domain.ChannelKey("speed"), json.RawMessage(`{}`)); !errors.Is(err, channelport.ErrInvalidKey) {
		t.Fatalf("Publish(invalid key) err=%v, want ErrInvalidKey", err)
	}

	// Unsubscribe before anything was delivered, twice.
	idle, err := reg.Subscribe(ctx, route, domain.KeyTip, func(json.RawMessage) {})
	if err != nil {
		t.Fatalf("Subscribe(tip): %v", err)
	}
	idle.Unsubscribe()
	idle.Unsubscribe()

	early := newCollector()
	earlySub, err := reg.Subscribe(ctx, route, domain.KeyLocation, early.handle)
	if err != nil {
		t.Fatalf("Subscribe(early): %v", err)
	}
	t.Cleanup(earlySub.Unsubscribe)
	early.expectNothing(t, "no value published yet")

	otherRoute := newCollector()
	otherSub, err := reg.Subscribe(ctx, other, domain.KeyLocation, otherRoute.handle)
	if err != nil {
		t.Fatalf("Subscribe(other route): %v", err)
	}
	t.Cleanup(otherSub.Unsubscribe)

	v1 := `{"latitude":40,"longitude":-75}`
	v2 := `{"latitude":40.1,"longitude":-75.1}`
	mustPublish(t, reg, route, domain.KeyStatus, `{"isActive":true}`)
	mustPublish(t, reg, route, domain.KeyLocation, v1)
	mustPublish(t, reg, route, domain.KeyLocation, v2)

	early.expect(t, v1)
	early.expect(t, v2)

	// Late subscribers see only the current value, then later changes.
	late := newCollector()
	lateSub, err := reg.Subscribe(ctx, route, domain.KeyLocation, late.handle)
	if err != nil {
		t.Fatalf("Subscribe(late): %v", err)
	}
	late.expect(t, v2)

	status := newCollector()
	statusSub, err := reg.Subscribe(ctx, route, domain.KeyStatus, status.handle)
	if err != nil {
		t.Fatalf("Subscribe(status): %v", err)
	}
	t.Cleanup(statusSub.Unsubscribe)
	status.expect(t, `{"isActive":true}`)

	lateSub.Unsubscribe()
	lateSub.Unsubscribe()

	v3 := `{"latitude":40.2,"longitude":-75.2}`
	mustPublish(t, reg, route, domain.KeyLocation, v3)
	early.expect(t, v3)
	late.expectNothing(t, "after Unsubscribe")
	status.expectNothing(t, "location publishes do not reach status")
	otherRoute.expectNothing(t, "publishes do not cross routes")
}

func RunKVCache(t *testing.T, newCache KVCacheFactory) {
	t.Helper()
	ctx := context.Background()

	c, cleanup := newCache(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	if _, ok, err := c.Get(ctx, kvcacheport.KeyUserToken); err != nil || ok {
		t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, kvcacheport.KeyUserToken, "tok-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, kvcacheport.KeyUserRole, "driver"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := c.Get(ctx, kvcacheport.KeyUserToken); err != nil || !ok || v != "tok-1" {
		t.Fatalf("Get=%q ok=%v err=%v", v, ok, err)
	}

	if err := c.Set(ctx, kvcacheport.KeyUserToken, "tok-2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _, _ := c.Get(ctx, kvcacheport.KeyUserToken); v != "tok-2" {
		t.Fatalf("Get after overwrite=%q", v)
	}

	if err := c.Remove(ctx, kvcacheport.KeyUserToken); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove(ctx, kvcacheport.KeyUserToken); err != nil {
		t.Fatalf("Remove(missing): %v", err)
	}
	if _, ok, _ := c.Get(ctx, kvcacheport.KeyUserToken); ok {
		t.Fatalf("expected removed key to be absent")
	}

	if err := c.Set(ctx, kvcacheport.KeyRoute, "R1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{kvcacheport.KeyUserToken, kvcacheport.KeyUserRole, kvcacheport.KeyRoute} {
		if _, ok, _ := c.Get(ctx, k); ok {
			t.Fatalf("expected %q cleared", k)
		}
	}
}

type collector struct {
	ch chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 32)}
}

func (c *collector) handle(v json.RawMessage) {
	c.ch <- string(v)
}

func (c *collector) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.ch:
		if got != want {
			t.Fatalf("delivered %s, want %s", got, want)
		}
	case <-time.After(deliveryTimeout):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func (c *collector) expectNothing(t *testing.T, why string) {
	t.Helper()
	select {
	case got := <-c.ch:
		t.Fatalf("unexpected delivery %s (%s)", got, why)
	case <-time.After(quietPeriod):
	}
}

func mustPublish(t *testing.T, reg channelport.Registry, route domain.RouteID, key domain.ChannelKey, v string) {
	t.Helper()
	if err := reg.Publish(context.Background(), route, key, json.RawMessage(v)); err != nil {
		t.Fatalf("Publish(%s,%s): %v", route, key, err)
	}
}
