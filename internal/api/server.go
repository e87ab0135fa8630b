package api

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Xi-Labs-ETH/staking-contract/internal/auth"
	"github.com/Xi-Labs-ETH/staking-contract/internal/staking"
	"github.com/Xi-Labs-ETH/staking-contract/pkg/messaging"
	"github.com/Xi-Labs-ETH/staking-contract/pkg/token"
)

const cacheTTL = 2 * time.Second

// Server exposes the ledger over HTTP. cache and msg may be nil; the query
// cache and the websocket event stream degrade gracefully without them.
type Server struct {
	router   *gin.Engine
	ledger   *staking.Ledger
	auth     *auth.Service
	cache    *redis.Client
	msg      *messaging.Client
	hub      *hub
	decimals int32
}

// Config holds API configuration.
type Config struct {
	Decimals int32 // decimals shared by both assets
}

// NewServer builds the router and, when a messaging client is present,
// starts relaying ledger events to websocket subscribers.
func NewServer(ledger *staking.Ledger, authSvc *auth.Service, cache *redis.Client, msg *messaging.Client, cfg Config) *Server {
	s := &Server{
		router:   gin.Default(),
		ledger:   ledger,
		auth:     authSvc,
		cache:    cache,
		msg:      msg,
		hub:      newHub(),
		decimals: cfg.Decimals,
	}

	go s.hub.run()
	s.startRelay()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/staking/supply", s.getSupply)
		v1.GET("/staking/rate", s.getRate)
		v1.GET("/staking/assets", s.getAssets)
		v1.GET("/staking/custody", s.getCustody)
		v1.GET("/staking/last-accrual", s.getLastAccrual)
		v1.GET("/staking/stakers", s.getStakers)
		v1.GET("/staking/balance/:address", s.getBalance)
		v1.GET("/staking/earned/:address", s.getEarned)

		v1.POST("/staking/deposit", s.deposit)
		v1.POST("/staking/withdraw", s.withdraw)
		v1.POST("/staking/claim", s.claim)
		v1.POST("/staking/accrue", s.accrue)

		admin := v1.Group("/admin", s.adminMiddleware())
		{
			admin.PUT("/rate", s.setRate)
			admin.POST("/reward-supply/deposit", s.depositRewardSupply)
			admin.POST("/reward-supply/withdraw", s.withdrawRewardSupply)
			admin.POST("/pause", s.pause)
			admin.POST("/unpause", s.unpause)
		}

		v1.GET("/ws", s.handleWebSocket)
	}
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the gin engine for embedding in an http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := s.auth.VerifyAdmin(header)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrUnauthorized) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

// Queries

func (s *Server) getSupply(c *gin.Context) {
	if v, ok := s.cacheGet(c, "staking:supply"); ok {
		c.JSON(http.StatusOK, gin.H{"total_staked": v, "cached": true})
		return
	}

	supply := s.ledger.TotalStaked()
	v := token.FromBaseUnits(supply, s.decimals)
	s.cacheSet(c, "staking:supply", v)
	c.JSON(http.StatusOK, gin.H{"total_staked": v, "base_units": supply.String()})
}

func (s *Server) getRate(c *gin.Context) {
	rate := s.ledger.EmissionRate()
	c.JSON(http.StatusOK, gin.H{
		"emission_per_day": token.FromBaseUnits(rate, s.decimals),
		"base_units":       rate.String(),
	})
}

func (s *Server) getAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"staking_asset": s.ledger.StakingAsset(),
		"reward_asset":  s.ledger.RewardAsset(),
	})
}

func (s *Server) getCustody(c *gin.Context) {
	bal, err := s.ledger.RewardCustody(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reward_custody": token.FromBaseUnits(bal, s.decimals),
		"base_units":     bal.String(),
	})
}

func (s *Server) getLastAccrual(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"seconds_since_accrual": s.ledger.SecondsSinceAccrual()})
}

func (s *Server) getStakers(c *gin.Context) {
	addrs := s.ledger.Stakers()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	c.JSON(http.StatusOK, gin.H{"stakers": out, "count": len(out)})
}

func (s *Server) getBalance(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}

	staked := s.ledger.StakedOf(addr)
	c.JSON(http.StatusOK, gin.H{
		"address":    addr.Hex(),
		"staked":     token.FromBaseUnits(staked, s.decimals),
		"base_units": staked.String(),
		"is_staker":  s.ledger.IsStaker(addr),
	})
}

func (s *Server) getEarned(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}

	key := "staking:earned:" + addr.Hex()
	if v, ok := s.cacheGet(c, key); ok {
		c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "earned": v, "cached": true})
		return
	}

	earned := s.ledger.EarnedOf(addr)
	v := token.FromBaseUnits(earned, s.decimals)
	s.cacheSet(c, key, v)
	c.JSON(http.StatusOK, gin.H{
		"address":    addr.Hex(),
		"earned":     v,
		"base_units": earned.String(),
	})
}

// Mutations

type stakeRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (s *Server) deposit(c *gin.Context) {
	addr, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}

	if err := s.ledger.Deposit(c.Request.Context(), addr, amount); err != nil {
		s.writeError(c, err)
		return
	}

	s.invalidate(c, addr)
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "staked": s.ledger.StakedOf(addr).String()})
}

func (s *Server) withdraw(c *gin.Context) {
	addr, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}

	if err := s.ledger.Withdraw(c.Request.Context(), addr, amount); err != nil {
		s.writeError(c, err)
		return
	}

	s.invalidate(c, addr)
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "staked": s.ledger.StakedOf(addr).String()})
}

func (s *Server) claim(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	addr := common.HexToAddress(req.Address)

	if err := s.ledger.Claim(c.Request.Context(), addr); err != nil {
		s.writeError(c, err)
		return
	}

	s.invalidate(c, addr)
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "earned": s.ledger.EarnedOf(addr).String()})
}

func (s *Server) accrue(c *gin.Context) {
	if err := s.ledger.Accrue(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds_since_accrual": s.ledger.SecondsSinceAccrual()})
}

// Admin

func (s *Server) setRate(c *gin.Context) {
	var req struct {
		Rate string `json:"rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rate, err := token.ToBaseUnits(req.Rate, s.decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ledger.SetEmissionRate(c.Request.Context(), rate); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emission_per_day": req.Rate})
}

func (s *Server) depositRewardSupply(c *gin.Context) {
	addr, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}

	if err := s.ledger.DepositRewardSupply(c.Request.Context(), addr, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposited": amount.String()})
}

func (s *Server) withdrawRewardSupply(c *gin.Context) {
	addr, amount, ok := s.bindStakeRequest(c)
	if !ok {
		return
	}

	if err := s.ledger.WithdrawRewardSupply(c.Request.Context(), addr, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount.String()})
}

func (s *Server) pause(c *gin.Context) {
	s.ledger.Pause(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) unpause(c *gin.Context) {
	s.ledger.Unpause(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Helpers

func (s *Server) bindStakeRequest(c *gin.Context) (common.Address, *big.Int, bool) {
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return common.Address{}, nil, false
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, nil, false
	}

	amount, err := token.ToBaseUnits(req.Amount, s.decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return common.Address{}, nil, false
	}
	return common.HexToAddress(req.Address), amount, true
}

func parseAddress(c *gin.Context) (common.Address, bool) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, staking.ErrInvalidAmount), errors.Is(err, staking.ErrInsufficientStake):
		status = http.StatusBadRequest
	case errors.Is(err, staking.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, staking.ErrReentrant), errors.Is(err, staking.ErrInsolvent):
		status = http.StatusConflict
	case errors.Is(err, staking.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) cacheGet(c *gin.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, err := s.cache.Get(c.Request.Context(), key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *Server) cacheSet(c *gin.Context, key, value string) {
	if s.cache == nil {
		return
	}
	s.cache.Set(c.Request.Context(), key, value, cacheTTL)
}

func (s *Server) invalidate(c *gin.Context, addr common.Address) {
	if s.cache == nil {
		return
	}
	s.cache.Del(c.Request.Context(), "staking:supply", "staking:earned:"+addr.Hex())
}
