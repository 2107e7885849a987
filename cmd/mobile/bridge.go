package main

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/tourly/backend/internal/config"
	"github.com/kimhsiao/tourly/backend/internal/core"
	"github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/itinerary"
	"github.com/kimhsiao/tourly/backend/internal/logging"
	"github.com/kimhsiao/tourly/backend/internal/services"
)

// response is the JSON envelope returned by every bridge call.
type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *errorBody  `json:"error,omitempty"`
}

// errorBody describes a failed call. Policy marks rejections that retrying
// the same call cannot fix.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Policy  bool   `json:"policy,omitempty"`
}

var (
	appMu sync.Mutex
	app   *core.Core
)

func encode(data interface{}, err error) string {
	resp := response{OK: err == nil, Data: data}
	if err != nil {
		resp.Data = nil
		resp.Error = &errorBody{
			Code:    string(errors.CodeOf(err)),
			Message: err.Error(),
			Policy:  errors.IsPolicy(err),
		}
	}
	out, mErr := json.Marshal(resp)
	if mErr != nil {
		out, _ = json.Marshal(response{Error: &errorBody{Code: string(errors.ErrInternal), Message: mErr.Error()}})
	}
	return string(out)
}

// initCore starts the core. configDoc is JSON (or YAML) laid out like the
// config file; omitted fields keep their defaults.
func initCore(configDoc string) string {
	appMu.Lock()
	defer appMu.Unlock()

	if app != nil {
		return encode(nil, errors.New(errors.ErrInternal, "already initialized"))
	}

	cfg := config.Default()
	if configDoc != "" {
		if err := yaml.Unmarshal([]byte(configDoc), cfg); err != nil {
			return encode(nil, errors.Wrap(errors.ErrConfig, "invalid config", err))
		}
	}
	if err := cfg.Validate(); err != nil {
		return encode(nil, errors.Wrap(errors.ErrConfig, "invalid config", err))
	}

	logging.SetDefault(logging.NewWithOptions(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}))

	c := core.New(cfg, core.RemoteFromConfig(cfg.Remote), nil)
	if err := c.InitDatabase(context.Background()); err != nil {
		return encode(nil, err)
	}
	app = c
	return encode(map[string]string{"data_dir": cfg.DataDir}, nil)
}

func closeCore() {
	appMu.Lock()
	defer appMu.Unlock()
	if app != nil {
		app.Close()
		app = nil
	}
}

func setOnline(online bool) {
	appMu.Lock()
	c := app
	appMu.Unlock()
	if c != nil {
		c.SetOnline(online)
	}
}

// handler runs one bridge method with its JSON arguments.
type handler func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error)

func call(method, args string) string {
	appMu.Lock()
	c := app
	appMu.Unlock()
	if c == nil {
		return encode(nil, errors.New(errors.ErrInternal, "not initialized"))
	}

	h, ok := handlers[method]
	if !ok {
		return encode(nil, errors.Newf(errors.ErrValidation, "unknown method %q", method))
	}
	if args == "" {
		args = "{}"
	}
	data, err := h(context.Background(), c, json.RawMessage(args))
	return encode(data, err)
}

// bind decodes args into a new T.
func bind[T any](args json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, errors.Wrap(errors.ErrValidation, "invalid arguments", err)
	}
	return v, nil
}

type idArgs struct {
	ID string `json:"id"`
}

type listAttractionsArgs struct {
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

type updateItineraryArgs struct {
	ID string `json:"id"`
	itinerary.ItineraryPatch
}

type visibilityArgs struct {
	ID     string `json:"id"`
	Public bool   `json:"public"`
}

type addLinkArgs struct {
	ItineraryID  string `json:"itinerary_id"`
	AttractionID string `json:"attraction_id"`
	itinerary.LinkInput
}

type updateLinkArgs struct {
	LinkID string `json:"link_id"`
	itinerary.LinkPatch
}

type removeLinkArgs struct {
	ItineraryID  string `json:"itinerary_id"`
	AttractionID string `json:"attraction_id"`
}

type reorderArgs struct {
	ItineraryID string   `json:"itinerary_id"`
	LinkIDs     []string `json:"link_ids"`
}

type autoSortArgs struct {
	ItineraryID string `json:"itinerary_id"`
	Enable      bool   `json:"enable"`
}

type listItinerariesArgs struct {
	CreatedBy string `json:"created_by"`
}

var handlers = map[string]handler{
	// Attractions
	"attractions.list": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[listAttractionsArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Attractions().List(ctx, a.Category, a.Limit, a.Offset)
	},
	"attractions.get": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[idArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Attractions().Get(ctx, a.ID)
	},
	"attractions.refresh": func(ctx context.Context, c *core.Core, _ json.RawMessage) (interface{}, error) {
		n, err := c.Attractions().Refresh(ctx)
		return map[string]int{"stored": n}, err
	},

	// Reviews
	"reviews.add": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[services.ReviewInput](args)
		if err != nil {
			return nil, err
		}
		return c.Reviews().Add(ctx, a)
	},
	"reviews.list": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[idArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Reviews().List(ctx, a.ID)
	},

	// Itineraries
	"itineraries.create": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[itinerary.ItineraryInput](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().Create(ctx, a)
	},
	"itineraries.list": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[listItinerariesArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().List(ctx, a.CreatedBy)
	},
	"itineraries.details": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[idArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().Details(ctx, a.ID)
	},
	"itineraries.update": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[updateItineraryArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().Update(ctx, a.ID, a.ItineraryPatch)
	},
	"itineraries.set_visibility": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[visibilityArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().SetVisibility(ctx, a.ID, a.Public)
	},
	"itineraries.delete": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[idArgs](args)
		if err != nil {
			return nil, err
		}
		return nil, c.Itineraries().Delete(ctx, a.ID)
	},
	"itineraries.reorder": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[reorderArgs](args)
		if err != nil {
			return nil, err
		}
		return nil, c.Itineraries().ManualReorder(ctx, a.ItineraryID, a.LinkIDs)
	},
	"itineraries.auto_sort": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[autoSortArgs](args)
		if err != nil {
			return nil, err
		}
		return nil, c.Itineraries().ToggleAutoSort(ctx, a.ItineraryID, a.Enable)
	},
	"itineraries.recompute": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[idArgs](args)
		if err != nil {
			return nil, err
		}
		return nil, c.Itineraries().Recompute(ctx, a.ID)
	},

	// Links
	"links.add": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[addLinkArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().AddLink(ctx, a.ItineraryID, a.AttractionID, a.LinkInput)
	},
	"links.update": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[updateLinkArgs](args)
		if err != nil {
			return nil, err
		}
		return c.Itineraries().UpdateLink(ctx, a.LinkID, a.LinkPatch)
	},
	"links.remove": func(ctx context.Context, c *core.Core, args json.RawMessage) (interface{}, error) {
		a, err := bind[removeLinkArgs](args)
		if err != nil {
			return nil, err
		}
		return nil, c.Itineraries().RemoveLink(ctx, a.ItineraryID, a.AttractionID)
	},

	// Sync
	"sync.drain": func(ctx context.Context, c *core.Core, _ json.RawMessage) (interface{}, error) {
		return c.DrainNow(ctx)
	},
	"sync.status": func(ctx context.Context, c *core.Core, _ json.RawMessage) (interface{}, error) {
		return c.Status(ctx)
	},
	"db.reset": func(ctx context.Context, c *core.Core, _ json.RawMessage) (interface{}, error) {
		return c.ResetDatabase(ctx)
	},
	"queue.retry_failed": func(ctx context.Context, c *core.Core, _ json.RawMessage) (interface{}, error) {
		n, err := c.Queue().RetryFailed(ctx)
		return map[string]int{"requeued": n}, err
	},
}

// methodNames lists the bridge methods, for the client's capability check.
func methodNames() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func describe() string {
	return encode(map[string]interface{}{
		"version": Version,
		"methods": methodNames(),
	}, nil)
}

// Version is set at build time
var Version = "0.1.0"

func main() {
	// Required for c-shared build mode; unused when loaded as a library.
}
