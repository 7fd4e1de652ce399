package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gehhilfe/eventorm"
	"github.com/gehhilfe/eventorm/cmd/example/model"
	"github.com/gehhilfe/eventorm/core"
)

// saveRetries bounds how often a command is replayed after losing a
// version race.
const saveRetries = 2

type openAccountDto struct {
	Owner string `json:"owner"`
}

func (d *openAccountDto) IsValid() error {
	if d.Owner == "" {
		return &invalidFieldError{"owner"}
	}
	return nil
}

type amountDto struct {
	Amount float64 `json:"amount"`
}

func writeAccount(w http.ResponseWriter, account *eventorm.Aggregate, status int) {
	data, err := account.JSON()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// apply loads the account, runs the command and saves. On a version
// conflict the account is refreshed and the command runs again on the
// current state.
func apply(ctx context.Context, manager *eventorm.Manager, store core.Store, id string, op func(*eventorm.Aggregate) error) (*eventorm.Aggregate, error) {
	account, err := manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := op(account); err != nil {
			return nil, err
		}
		err = account.Save(ctx, store)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) || attempt == saveRetries {
			return nil, err
		}
		if err := account.Refresh(ctx, store); err != nil {
			return nil, err
		}
	}
}

func OpenAccountHandler(store core.Store) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		dto := openAccountDto{}
		err := json.NewDecoder(r.Body).Decode(&dto)
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		if err := dto.IsValid(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		account, err := model.OpenAccount(dto.Owner)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := account.Save(r.Context(), store); err != nil {
			writeError(w, err)
			return
		}

		writeAccount(w, account, http.StatusCreated)
	}
}

func GetAccountHandler(manager *eventorm.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		account, err := manager.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeAccount(w, account, http.StatusOK)
	}
}

func ListAccountsHandler(manager *eventorm.Manager) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		accounts := make([]json.RawMessage, 0)
		for account, err := range manager.All(r.Context()) {
			if err != nil {
				writeError(w, err)
				return
			}
			data, err := account.JSON()
			if err != nil {
				writeError(w, err)
				return
			}
			accounts = append(accounts, data)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(accounts)
	}
}

func DepositHandler(manager *eventorm.Manager, store core.Store) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		dto := amountDto{}
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		account, err := apply(r.Context(), manager, store, id, func(a *eventorm.Aggregate) error {
			return model.Deposit(a, dto.Amount)
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeAccount(w, account, http.StatusOK)
	}
}

func WithdrawHandler(manager *eventorm.Manager, store core.Store) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		dto := amountDto{}
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		account, err := apply(r.Context(), manager, store, id, func(a *eventorm.Aggregate) error {
			return model.Withdraw(a, dto.Amount)
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeAccount(w, account, http.StatusOK)
	}
}
